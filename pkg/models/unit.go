package models

import (
	"time"

	"github.com/google/uuid"
)

// Unit statuses. Transitions are monotonic within one attempt:
// pending → starting → generating → {completed|failed}. A retry starts
// a fresh attempt for the same unit and resets status to starting.
const (
	UnitStatusPending    = "pending"
	UnitStatusStarting   = "starting"
	UnitStatusGenerating = "generating"
	UnitStatusCompleted  = "completed"
	UnitStatusFailed     = "failed"
)

// TerminalUnitStatus reports whether a status ends an attempt.
func TerminalUnitStatus(status string) bool {
	return status == UnitStatusCompleted || status == UnitStatusFailed
}

// UnitRequest is the caller-supplied content of one clip request.
type UnitRequest struct {
	Prompt           string `json:"prompt"`
	AspectRatio      string `json:"aspect_ratio"`
	SceneContext     string `json:"scene_context,omitempty"`
	CharacterContext string `json:"character_context,omitempty"`
}

// Unit is one requested clip within a generation job. ID and
// SequenceNumber are assigned at submission and never change;
// AttemptID changes on every retry and guards against stale poller
// writes landing after a newer attempt has started.
type Unit struct {
	ID               uuid.UUID   `json:"id"`
	JobID            uuid.UUID   `json:"job_id"`
	SequenceNumber   int         `json:"sequence_number"`
	Request          UnitRequest `json:"request"`
	Status           string      `json:"status"`
	OperationHandle  string      `json:"operation_handle,omitempty"`
	ArtifactURL      string      `json:"artifact_url,omitempty"`
	ErrorMessage     *string     `json:"error_message,omitempty"`
	CredentialID     *uuid.UUID  `json:"credential_id,omitempty"`
	AttemptID        uuid.UUID   `json:"attempt_id"`
	CreatedAt        time.Time   `json:"created_at"`
	LastTransitionAt time.Time   `json:"last_transition_at"`
}

// Clone returns a deep-enough copy safe to hand to callers while the
// orchestrator keeps mutating the original.
func (u *Unit) Clone() *Unit {
	c := *u
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		c.ErrorMessage = &msg
	}
	if u.CredentialID != nil {
		id := *u.CredentialID
		c.CredentialID = &id
	}
	return &c
}
