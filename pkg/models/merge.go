package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MergeStatusPending   = "pending"
	MergeStatusRunning   = "running"
	MergeStatusCompleted = "completed"
	MergeStatusFailed    = "failed"
)

// MergeInput references one completed clip to concatenate.
type MergeInput struct {
	SequenceNumber int    `json:"sequence_number"`
	ArtifactURL    string `json:"artifact_url"`
}

// MergeJob concatenates two or more completed clips, ordered by
// sequence number, into a single artifact. Merge is all-or-nothing: a
// failed merge leaves no partial output and never mutates its inputs.
type MergeJob struct {
	ID           uuid.UUID    `json:"id"`
	ProjectID    *uuid.UUID   `json:"project_id,omitempty"`
	Inputs       []MergeInput `json:"inputs"`
	Status       string       `json:"status"`
	OutputURL    string       `json:"output_url,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}
