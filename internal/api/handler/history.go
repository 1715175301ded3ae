package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/pkg/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryStore reads the durable per-unit mirror.
type HistoryStore interface {
	ListHistory(ctx context.Context, filter store.HistoryFilter) ([]*models.HistoryEntry, int, error)
	GetHistoryEntry(ctx context.Context, unitID uuid.UUID) (*models.HistoryEntry, error)
}

// NewListHistoryHandler returns the handler for GET /api/v1/history.
// Supported query parameters: job_id, status, since (RFC3339), page,
// limit.
func NewListHistoryHandler(st HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.HistoryFilter{
			Status: q.Get("status"),
			Page:   1,
			Limit:  defaultHistoryLimit,
		}

		if raw := q.Get("job_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"job_id must be a valid UUID", nil)
				return
			}
			filter.JobID = &id
		}
		if raw := q.Get("since"); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"since must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Since = ts
		}
		if raw := q.Get("page"); raw != "" {
			if p, err := strconv.Atoi(raw); err == nil && p > 0 {
				filter.Page = p
			}
		}
		if raw := q.Get("limit"); raw != "" {
			if l, err := strconv.Atoi(raw); err == nil && l > 0 {
				filter.Limit = l
			}
		}
		if filter.Limit > maxHistoryLimit {
			filter.Limit = maxHistoryLimit
		}

		entries, total, err := st.ListHistory(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if entries == nil {
			entries = []*models.HistoryEntry{}
		}

		response.Collection(w, entries, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetHistoryEntryHandler returns the handler for
// GET /api/v1/history/{unitID}.
func NewGetHistoryEntryHandler(st HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID, ok := pathUUID(w, r, "unitID")
		if !ok {
			return
		}

		entry, err := st.GetHistoryEntry(r.Context(), unitID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "UNIT_NOT_FOUND", "Unknown unit", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, entry)
	}
}
