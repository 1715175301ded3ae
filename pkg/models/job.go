package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one submitted generation batch of up to 200 units. The API
// returns the job id and unit ids on POST /api/v1/generate; clients
// either stream events or poll the snapshot endpoint.
type Job struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	ProjectID   *uuid.UUID     `db:"project_id"   json:"project_id,omitempty"`
	Status      string         `db:"status"       json:"status"`
	UnitCount   int            `db:"unit_count"   json:"unit_count"`
	Policy      RotationPolicy `db:"-"            json:"policy"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}
