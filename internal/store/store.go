package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error

	// History mirror: durable per-unit records written on every
	// terminal transition and read back for recovery.
	UpsertHistoryEntry(ctx context.Context, entry *models.HistoryEntry) error
	GetHistoryEntry(ctx context.Context, unitID uuid.UUID) (*models.HistoryEntry, error)
	ListHistoryByJob(ctx context.Context, jobID uuid.UUID) ([]*models.HistoryEntry, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.HistoryEntry, int, error)

	ListCredentials(ctx context.Context) ([]*models.Credential, error)
	CreateCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	SetCredentialActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdateCredentialUsage(ctx context.Context, id uuid.UUID, requestCount int, lastUsedAt time.Time) error
	ReplaceCredentials(ctx context.Context, creds []*models.Credential) error

	GetRotationPolicy(ctx context.Context) (*models.RotationPolicy, error)
	SaveRotationPolicy(ctx context.Context, policy *models.RotationPolicy) error
}

// HistoryFilter narrows and paginates history listings.
type HistoryFilter struct {
	JobID  *uuid.UUID
	Status string
	Since  time.Time
	Page   int
	Limit  int
}
