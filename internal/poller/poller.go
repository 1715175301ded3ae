// Package poller drives one unit's asynchronous provider operation
// from submission to a terminal state. A poller run belongs to exactly
// one attempt; every transition it commits is checked against the
// unit's current attempt id so a cancelled run can never overwrite a
// newer one.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/pkg/models"
)

// ErrPollTimeout marks a unit whose operation never reached a terminal
// status within the poll budget.
var ErrPollTimeout = errors.New("generation did not finish within the poll budget")

// Update carries the fields a transition may set alongside the status.
type Update struct {
	OperationHandle string
	ArtifactURL     string
	ErrorMessage    string
}

// Sink receives state transitions. Transition returns false when the
// attempt id no longer matches the unit's current attempt; the poller
// stops immediately in that case and its result is discarded.
type Sink interface {
	Transition(unitID, attemptID uuid.UUID, status string, upd Update) bool
}

// Attempt identifies one submission-to-terminal cycle of a unit.
type Attempt struct {
	UnitID    uuid.UUID
	AttemptID uuid.UUID
	Secret    string
	Request   models.SubmitRequest
}

// Poller submits and polls provider operations.
type Poller struct {
	provider      models.VideoProvider
	interval      time.Duration
	maxPolls      int
	maxQuickPolls int

	// waitFn is swapped in tests to avoid real sleeps.
	waitFn func(ctx context.Context, d time.Duration) error
}

// New creates a Poller. Every run is bounded: scene generations get
// maxPolls, plain prompt generations get the smaller maxQuickPolls.
// Polling never runs unbounded.
func New(provider models.VideoProvider, interval time.Duration, maxPolls, maxQuickPolls int) *Poller {
	return &Poller{
		provider:      provider,
		interval:      interval,
		maxPolls:      maxPolls,
		maxQuickPolls: maxQuickPolls,
		waitFn:        wait,
	}
}

// budgetFor picks the poll budget for one attempt. Plain prompts run
// the provider's simple generation and settle well inside the quick
// budget; scene generations carry context and get the full one.
func (p *Poller) budgetFor(a Attempt) int {
	if a.Request.SceneContext == "" && a.Request.CharacterContext == "" {
		return p.maxQuickPolls
	}
	return p.maxPolls
}

// Drive runs one attempt to its terminal state: submit, then poll at a
// fixed interval until the provider reports a terminal status, the
// poll budget runs out, or ctx is cancelled. Cancellation between
// polls is effective immediately; a response already in flight is
// dropped by the sink's attempt check.
func (p *Poller) Drive(ctx context.Context, a Attempt, sink Sink) {
	handle, err := p.provider.Submit(ctx, a.Secret, a.Request)
	if err != nil {
		sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusFailed, Update{
			ErrorMessage: fmt.Sprintf("submission failed: %v", err),
		})
		return
	}

	if !sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusStarting, Update{OperationHandle: handle}) {
		return
	}

	budget := p.budgetFor(a)
	acked := false
	for i := 0; i < budget; i++ {
		if err := p.waitFn(ctx, p.interval); err != nil {
			slog.Debug("poll cancelled", "unit_id", a.UnitID, "attempt_id", a.AttemptID)
			return
		}

		res, err := p.provider.Poll(ctx, a.Secret, handle)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient poll failure burns one slot of the budget.
			slog.Warn("poll failed", "unit_id", a.UnitID, "handle", handle, "error", err)
			continue
		}

		switch Normalize(res.RawStatus) {
		case OutcomeSuccess:
			sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusCompleted, Update{
				ArtifactURL: res.ArtifactURL,
			})
			return
		case OutcomeFailure:
			msg := res.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("provider reported status %s", res.RawStatus)
			}
			sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusFailed, Update{
				ErrorMessage: msg,
			})
			return
		case OutcomeInProgress:
			if !acked {
				acked = true
				if !sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusGenerating, Update{}) {
					return
				}
			}
		}
	}

	sink.Transition(a.UnitID, a.AttemptID, models.UnitStatusFailed, Update{
		ErrorMessage: fmt.Sprintf("%v after %d polls", ErrPollTimeout, budget),
	})
}

// wait sleeps for d or returns early with the context error.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
