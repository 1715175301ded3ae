// Package handler contains the HTTP handlers for the generation API.
// Each handler depends on a narrow interface so tests can stand in a
// mock without booting the full pipeline.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/orchestrator"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/pkg/models"
)

// defaultAspectRatio applies when the request leaves it blank.
const defaultAspectRatio = "16:9"

// sceneRequest is one entry of the richer scenes form of the submit
// body.
type sceneRequest struct {
	Prompt           string `json:"prompt"`
	SceneContext     string `json:"scene_context"`
	CharacterContext string `json:"character_context"`
	AspectRatio      string `json:"aspect_ratio"`
}

type generateRequest struct {
	Prompts     []string       `json:"prompts"`
	Scenes      []sceneRequest `json:"scenes"`
	AspectRatio string         `json:"aspect_ratio"`
	ProjectID   *uuid.UUID     `json:"project_id"`
}

type generatedUnit struct {
	ID             uuid.UUID `json:"id"`
	SequenceNumber int       `json:"sequence_number"`
}

type generateResponse struct {
	JobID uuid.UUID       `json:"job_id"`
	Units []generatedUnit `json:"units"`
}

// Submitter accepts validated job requests.
type Submitter interface {
	SubmitJob(ctx context.Context, req orchestrator.JobRequest) (*models.Job, []models.Unit, error)
}

// NewGenerateHandler returns the handler for POST /api/v1/generate.
func NewGenerateHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		units, err := buildUnitRequests(req)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}

		job, created, err := svc.SubmitJob(r.Context(), orchestrator.JobRequest{
			ProjectID: req.ProjectID,
			Units:     units,
		})
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrEmptyJob), errors.Is(err, orchestrator.ErrTooManyUnits):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		out := generateResponse{JobID: job.ID}
		for _, u := range created {
			out.Units = append(out.Units, generatedUnit{ID: u.ID, SequenceNumber: u.SequenceNumber})
		}
		response.Accepted(w, out)
	}
}

// buildUnitRequests normalizes the two accepted body forms into unit
// requests. Scenes win over prompts when both are present.
func buildUnitRequests(req generateRequest) ([]models.UnitRequest, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = defaultAspectRatio
	}

	if len(req.Scenes) > 0 {
		out := make([]models.UnitRequest, 0, len(req.Scenes))
		for i, s := range req.Scenes {
			if s.Prompt == "" {
				return nil, errEmptyPrompt(i)
			}
			a := s.AspectRatio
			if a == "" {
				a = aspect
			}
			out = append(out, models.UnitRequest{
				Prompt:           s.Prompt,
				AspectRatio:      a,
				SceneContext:     s.SceneContext,
				CharacterContext: s.CharacterContext,
			})
		}
		return out, nil
	}

	out := make([]models.UnitRequest, 0, len(req.Prompts))
	for i, p := range req.Prompts {
		if p == "" {
			return nil, errEmptyPrompt(i)
		}
		out = append(out, models.UnitRequest{Prompt: p, AspectRatio: aspect})
	}
	return out, nil
}

func errEmptyPrompt(i int) error {
	return fmt.Errorf("prompt %d is empty", i+1)
}

// Snapshotter serves point-in-time job state.
type Snapshotter interface {
	Snapshot(jobID uuid.UUID) (*models.Job, []models.Unit, error)
}

type snapshotResponse struct {
	Job   *models.Job   `json:"job"`
	Units []models.Unit `json:"units"`
}

// NewJobSnapshotHandler returns the handler for GET /api/v1/generate/{jobID}.
func NewJobSnapshotHandler(svc Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		job, units, err := svc.Snapshot(jobID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, snapshotResponse{Job: job, Units: units})
	}
}

// Streamer attaches push subscribers to a job's event stream.
type Streamer interface {
	Subscribe(jobID uuid.UUID) (<-chan progress.Event, func(), error)
}

// NewJobStreamHandler returns the handler for
// GET /api/v1/generate/{jobID}/stream. Events go out as NDJSON, one
// record per line, flushed per event. The stream closes after the
// terminal complete event or when the client disconnects; a client
// that reconnects rebuilds state from the snapshot endpoint.
func NewJobStreamHandler(svc Streamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		flusher, canFlush := w.(http.Flusher)
		if !canFlush {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"Response writer does not support streaming", nil)
			return
		}

		ch, cancel, err := svc.Subscribe(jobID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		defer cancel()

		response.NDJSON(w)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				if err := enc.Encode(ev); err != nil {
					return
				}
				flusher.Flush()
				if ev.Type == progress.EventComplete {
					return
				}
			}
		}
	}
}

// Discarder abandons jobs.
type Discarder interface {
	DiscardJob(jobID uuid.UUID) error
}

// NewDiscardJobHandler returns the handler for
// DELETE /api/v1/generate/{jobID}. Discarding cancels in-flight
// attempts and drops the job's stream and snapshot; history rows are
// kept.
func NewDiscardJobHandler(svc Discarder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}

		if err := svc.DiscardJob(jobID); err != nil {
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Unknown job", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, map[string]any{"job_id": jobID, "status": "discarded"})
	}
}

// pathUUID parses a UUID route parameter, writing the validation error
// itself.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
