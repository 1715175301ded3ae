package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const jobIndexKey = "jobs:index"

func JobSnapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:snapshot:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
