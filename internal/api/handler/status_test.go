package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/orchestrator"
	"github.com/reelforge/reelforge/internal/provider/veo"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStatusChecker struct {
	report *orchestrator.StatusReport
	err    error
	handle string
}

func (m *mockStatusChecker) CheckStatus(_ context.Context, _ *uuid.UUID, handle string) (*orchestrator.StatusReport, error) {
	m.handle = handle
	return m.report, m.err
}

func TestStatus_ReturnsNormalizedReading(t *testing.T) {
	svc := &mockStatusChecker{report: &orchestrator.StatusReport{
		RawStatus:   "OPERATION_DONE",
		Status:      models.UnitStatusCompleted,
		Done:        true,
		ArtifactURL: "https://cdn/clip.mp4",
	}}

	rec := httptest.NewRecorder()
	NewStatusHandler(svc)(rec, postJSON(t, "/api/v1/status", map[string]any{
		"operation_handle": "operations/abc123",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operations/abc123", svc.handle)
	data := dataOf(t, rec)
	assert.Equal(t, models.UnitStatusCompleted, data["status"])
	assert.Equal(t, true, data["done"])
}

func TestStatus_MissingHandleRejected(t *testing.T) {
	svc := &mockStatusChecker{}

	rec := httptest.NewRecorder()
	NewStatusHandler(svc)(rec, postJSON(t, "/api/v1/status", map[string]any{}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, rec))
}

func TestStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"unknown operation", veo.ErrOperationNotFound, http.StatusNotFound, "OPERATION_NOT_FOUND"},
		{"no credential", credential.ErrNoneAvailable, http.StatusServiceUnavailable, "NO_CREDENTIAL"},
		{"provider down", veo.ErrUnreachable, http.StatusBadGateway, "PROVIDER_UNAVAILABLE"},
		{"provider timeout", veo.ErrTimeout, http.StatusBadGateway, "PROVIDER_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockStatusChecker{err: tt.err}
			rec := httptest.NewRecorder()
			NewStatusHandler(svc)(rec, postJSON(t, "/api/v1/status", map[string]any{
				"operation_handle": "operations/abc123",
			}))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, errCode(t, rec))
		})
	}
}
