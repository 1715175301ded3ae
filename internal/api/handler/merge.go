package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/merge"
	"github.com/reelforge/reelforge/pkg/models"
)

// Merger concatenates completed clips into one artifact.
type Merger interface {
	Merge(ctx context.Context, inputs []models.MergeInput, projectID *uuid.UUID) (*models.MergeJob, error)
}

type mergeRequest struct {
	Videos    []models.MergeInput `json:"videos"`
	ProjectID *uuid.UUID          `json:"project_id"`
}

type mergeResponse struct {
	MergeID        uuid.UUID `json:"merge_id"`
	MergedVideoURL string    `json:"merged_video_url"`
	InputCount     int       `json:"input_count"`
}

// NewMergeHandler returns the handler for POST /api/v1/merge. The
// merge is synchronous and all-or-nothing; on failure the inputs are
// untouched and the same request can simply be retried.
func NewMergeHandler(svc Merger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Merge(r.Context(), req.Videos, req.ProjectID)
		if err != nil {
			switch {
			case errors.Is(err, merge.ErrTooFewInputs), errors.Is(err, merge.ErrMissingArtifact):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			case errors.Is(err, merge.ErrDownloadFailed),
				errors.Is(err, merge.ErrConcatFailed),
				errors.Is(err, merge.ErrUploadFailed):
				response.Error(w, http.StatusUnprocessableEntity, "MERGE_ERROR", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, mergeResponse{
			MergeID:        job.ID,
			MergedVideoURL: job.OutputURL,
			InputCount:     len(req.Videos),
		})
	}
}
