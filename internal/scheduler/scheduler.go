// Package scheduler partitions a job's units into fixed-size batches
// and throttles their release against the provider. Within a batch,
// units launch concurrently; across batches, execution is serialized
// by the configured inter-batch delay, capping the peak request rate
// independent of how fast individual operations complete.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/pkg/models"
)

const (
	// When the pool is momentarily exhausted, acquisition is retried a
	// few times per unit before the unit fails fast.
	acquireAttempts   = 3
	acquireRetryDelay = 2 * time.Second
)

// Launcher starts one unit's attempt with its bound credential. It
// must not block: the scheduler releases the next batch on a timer,
// not on completion.
type Launcher func(ctx context.Context, unit *models.Unit, cred *models.Credential)

// Failer marks a unit failed before any submission happened (e.g.
// credential exhaustion).
type Failer func(unit *models.Unit, err error)

// Scheduler releases units in throttled batches, binding each to a
// credential from the pool.
type Scheduler struct {
	pool *credential.Pool

	// delayFn is swapped in tests to avoid real sleeps.
	delayFn func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler over the given credential pool.
func New(pool *credential.Pool) *Scheduler {
	return &Scheduler{pool: pool, delayFn: sleep}
}

// Schedule splits units into consecutive batches of
// policy.UnitsPerBatch (the last batch may be smaller), launches each
// batch's units concurrently, and waits policy.BatchDelaySeconds
// before releasing the next batch. Returns early with the context
// error if cancelled between batches. Count bounds are the caller's
// responsibility; Schedule assumes a validated job.
func (s *Scheduler) Schedule(ctx context.Context, units []*models.Unit, policy models.RotationPolicy, launch Launcher, fail Failer) error {
	size := policy.UnitsPerBatch
	if size < 1 {
		size = 1
	}
	delay := time.Duration(policy.BatchDelaySeconds) * time.Second

	for start := 0; start < len(units); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > len(units) {
			end = len(units)
		}
		batch := units[start:end]

		slog.Info("releasing batch",
			"batch_start", start+1,
			"batch_size", len(batch),
			"total_units", len(units),
		)
		metrics.BatchesReleasedTotal.Inc()

		for _, unit := range batch {
			cred, err := s.acquireWithRetry(ctx)
			if err != nil {
				fail(unit, err)
				continue
			}
			launch(ctx, unit, cred)
		}

		if end < len(units) {
			if err := s.delayFn(ctx, delay); err != nil {
				return err
			}
		}
	}

	return nil
}

// acquireWithRetry retries credential acquisition sequentially when
// the pool is temporarily exhausted, then gives up so the unit fails
// fast instead of retry-looping silently.
func (s *Scheduler) acquireWithRetry(ctx context.Context) (*models.Credential, error) {
	var lastErr error
	for i := 0; i < acquireAttempts; i++ {
		cred, err := s.pool.Acquire(ctx)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < acquireAttempts-1 {
			if err := s.delayFn(ctx, acquireRetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
