package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/orchestrator"
	"github.com/reelforge/reelforge/internal/retrier"
)

// Retrier is the coordinator surface for the retry endpoints.
type Retrier interface {
	RetryOne(ctx context.Context, unitID uuid.UUID) error
	RetryAllFailed(ctx context.Context, jobID uuid.UUID) (int, error)
}

// NewRetryUnitHandler returns the handler for
// POST /api/v1/generate/{jobID}/units/{unitID}/retry.
func NewRetryUnitHandler(svc Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID, ok := pathUUID(w, r, "unitID")
		if !ok {
			return
		}

		if err := svc.RetryOne(r.Context(), unitID); err != nil {
			switch {
			case errors.Is(err, retrier.ErrUnknownUnit):
				response.Error(w, http.StatusNotFound, "UNIT_NOT_FOUND", "Unknown unit", nil)
			case errors.Is(err, retrier.ErrRetryInProgress):
				response.Error(w, http.StatusConflict, "RETRY_IN_PROGRESS",
					"A retry for this unit is already running", nil)
			default:
				response.Error(w, http.StatusServiceUnavailable, "RETRY_FAILED", err.Error(), nil)
			}
			return
		}

		response.Accepted(w, map[string]any{"unit_id": unitID, "status": "retrying"})
	}
}

// NewRetryJobHandler returns the handler for
// POST /api/v1/generate/{jobID}/retry: it sweeps the job's failed
// units and retries each.
func NewRetryJobHandler(svc Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		started, err := svc.RetryAllFailed(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, map[string]any{"job_id": jobID, "retries_started": started})
	}
}

// Canceller aborts a unit's current attempt.
type Canceller interface {
	CancelUnit(unitID uuid.UUID) error
}

// NewCancelUnitHandler returns the handler for
// DELETE /api/v1/generate/{jobID}/units/{unitID}.
func NewCancelUnitHandler(svc Canceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID, ok := pathUUID(w, r, "unitID")
		if !ok {
			return
		}

		if err := svc.CancelUnit(unitID); err != nil {
			if errors.Is(err, orchestrator.ErrUnitNotFound) {
				response.Error(w, http.StatusNotFound, "UNIT_NOT_FOUND", "Unknown unit", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{"unit_id": unitID, "status": "cancelled"})
	}
}
