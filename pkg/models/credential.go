package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one provider access key in the rotation pool. It is
// owned by the credential pool; units hold only its ID.
type Credential struct {
	ID           uuid.UUID  `db:"id"             json:"id"`
	Label        string     `db:"label"          json:"label"`
	Secret       string     `db:"secret"         json:"-"`
	IsActive     bool       `db:"is_active"      json:"is_active"`
	RequestCount int        `db:"request_count"  json:"request_count"`
	LastUsedAt   *time.Time `db:"last_used_at"   json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"     json:"updated_at"`
}

// MaskedSecret returns the secret with all but the last four
// characters hidden, for admin listings.
func (c *Credential) MaskedSecret() string {
	if len(c.Secret) <= 4 {
		return "****"
	}
	return "****" + c.Secret[len(c.Secret)-4:]
}

// RotationPolicy controls credential rotation and batch throttling.
// It is snapshotted per job at submission; later edits apply to
// subsequent jobs only.
type RotationPolicy struct {
	Enabled                  bool `json:"rotation_enabled"`
	IntervalMinutes          int  `json:"rotation_interval_minutes"`
	MaxRequestsPerCredential int  `json:"max_requests_per_token"`
	UnitsPerBatch            int  `json:"units_per_batch"`
	BatchDelaySeconds        int  `json:"batch_delay_seconds"`
}

// Rotation policy bounds enforced on admin updates.
const (
	MinUnitsPerBatch     = 1
	MaxUnitsPerBatch     = 50
	MinBatchDelaySeconds = 10
	MaxBatchDelaySeconds = 120
)

// Clamp forces batch fields into their allowed ranges.
func (p *RotationPolicy) Clamp() {
	if p.UnitsPerBatch < MinUnitsPerBatch {
		p.UnitsPerBatch = MinUnitsPerBatch
	}
	if p.UnitsPerBatch > MaxUnitsPerBatch {
		p.UnitsPerBatch = MaxUnitsPerBatch
	}
	if p.BatchDelaySeconds < MinBatchDelaySeconds {
		p.BatchDelaySeconds = MinBatchDelaySeconds
	}
	if p.BatchDelaySeconds > MaxBatchDelaySeconds {
		p.BatchDelaySeconds = MaxBatchDelaySeconds
	}
}
