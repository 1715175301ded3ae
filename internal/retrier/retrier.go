// Package retrier coordinates per-unit retries. Its single invariant:
// at most one active attempt per unit at any time, even under
// concurrent retry requests for the same unit.
package retrier

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/pkg/models"
)

var (
	// ErrUnknownUnit is returned when the unit id is not part of any
	// live job.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrRetryInProgress is returned when a retry for the unit is
	// already running; the caller's request is coalesced into it.
	ErrRetryInProgress = errors.New("retry already in progress")
)

// Jobs is the orchestrator surface the coordinator drives.
type Jobs interface {
	// UnitStatus returns the unit's current status.
	UnitStatus(unitID uuid.UUID) (string, bool)

	// FailedUnits snapshots the ids of the job's currently failed
	// units, ordered by sequence number.
	FailedUnits(jobID uuid.UUID) []uuid.UUID

	// CancelAttempt invalidates the unit's current attempt: cancels its
	// poll context and rotates the attempt id so any in-flight response
	// is dropped on arrival.
	CancelAttempt(unitID uuid.UUID)

	// StartAttempt begins a fresh attempt for the unit: clears its
	// error, sets status starting, binds a credential, and launches a
	// new poller run.
	StartAttempt(ctx context.Context, unitID uuid.UUID) error
}

// Coordinator serializes retries per unit.
type Coordinator struct {
	jobs Jobs

	mu       sync.Mutex
	retrying map[uuid.UUID]struct{}
}

// New creates a Coordinator over the given job surface.
func New(jobs Jobs) *Coordinator {
	return &Coordinator{
		jobs:     jobs,
		retrying: make(map[uuid.UUID]struct{}),
	}
}

// RetryOne cancels any in-flight attempt for the unit and starts a new
// one. A call arriving while a retry for the same unit is already in
// progress is a no-op and returns ErrRetryInProgress.
func (c *Coordinator) RetryOne(ctx context.Context, unitID uuid.UUID) error {
	if _, ok := c.jobs.UnitStatus(unitID); !ok {
		return ErrUnknownUnit
	}

	c.mu.Lock()
	if _, busy := c.retrying[unitID]; busy {
		c.mu.Unlock()
		return ErrRetryInProgress
	}
	c.retrying[unitID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.retrying, unitID)
		c.mu.Unlock()
	}()

	c.jobs.CancelAttempt(unitID)
	metrics.RetriesTotal.Inc()

	if err := c.jobs.StartAttempt(ctx, unitID); err != nil {
		return err
	}
	return nil
}

// RetryAllFailed snapshots the set of currently failed units and
// retries each sequentially. A unit that left the failed state before
// its turn is skipped, so the sweep is resilient to concurrent status
// changes. Returns the number of retries actually started.
func (c *Coordinator) RetryAllFailed(ctx context.Context, jobID uuid.UUID) (int, error) {
	snapshot := c.jobs.FailedUnits(jobID)

	started := 0
	for _, unitID := range snapshot {
		status, ok := c.jobs.UnitStatus(unitID)
		if !ok || status != models.UnitStatusFailed {
			continue
		}
		if err := c.RetryOne(ctx, unitID); err != nil {
			if errors.Is(err, ErrRetryInProgress) {
				continue
			}
			slog.Warn("retry failed during bulk sweep", "unit_id", unitID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// Cancel invalidates the unit's current attempt without starting a new
// one.
func (c *Coordinator) Cancel(unitID uuid.UUID) error {
	if _, ok := c.jobs.UnitStatus(unitID); !ok {
		return ErrUnknownUnit
	}
	c.jobs.CancelAttempt(unitID)
	return nil
}
