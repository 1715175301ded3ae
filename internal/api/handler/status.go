package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/orchestrator"
	"github.com/reelforge/reelforge/internal/provider/veo"
)

// StatusChecker performs a single raw provider poll for an operation
// handle.
type StatusChecker interface {
	CheckStatus(ctx context.Context, unitID *uuid.UUID, operationHandle string) (*orchestrator.StatusReport, error)
}

// NewStatusHandler returns the handler for POST /api/v1/status. It
// answers with the provider's raw status plus the normalized reading,
// outside any unit state machine.
func NewStatusHandler(svc StatusChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationHandle string     `json:"operation_handle"`
			UnitID          *uuid.UUID `json:"unit_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.OperationHandle == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "operation_handle is required", nil)
			return
		}

		report, err := svc.CheckStatus(r.Context(), req.UnitID, req.OperationHandle)
		if err != nil {
			switch {
			case errors.Is(err, veo.ErrOperationNotFound):
				response.Error(w, http.StatusNotFound, "OPERATION_NOT_FOUND",
					"Unknown operation handle", nil)
			case errors.Is(err, credential.ErrNoneAvailable):
				response.Error(w, http.StatusServiceUnavailable, "NO_CREDENTIAL",
					"No credential available to query the provider", nil)
			case errors.Is(err, veo.ErrUnreachable), errors.Is(err, veo.ErrTimeout):
				response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE",
					"The video provider is not reachable", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, report)
	}
}
