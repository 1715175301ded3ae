package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is the durable mirror of a unit's public fields, keyed
// by unit id. The orchestrator writes it on every terminal transition
// (best effort) and reads it back to reconcile state after a restart.
// It outlives the in-memory job.
type HistoryEntry struct {
	UnitID         uuid.UUID  `db:"unit_id"         json:"unit_id"`
	JobID          uuid.UUID  `db:"job_id"          json:"job_id"`
	SequenceNumber int        `db:"sequence_number" json:"sequence_number"`
	Prompt         string     `db:"prompt"          json:"prompt"`
	AspectRatio    string     `db:"aspect_ratio"    json:"aspect_ratio"`
	Status         string     `db:"status"          json:"status"`
	ArtifactURL    *string    `db:"artifact_url"    json:"artifact_url,omitempty"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	CredentialID   *uuid.UUID `db:"credential_id"   json:"credential_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
}
