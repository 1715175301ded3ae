package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/reelforge/reelforge/internal/api/middleware"
	"github.com/reelforge/reelforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	GenerateHandler    http.HandlerFunc
	JobSnapshotHandler http.HandlerFunc
	JobStreamHandler   http.HandlerFunc
	DiscardJobHandler  http.HandlerFunc
	RetryUnitHandler   http.HandlerFunc
	RetryJobHandler    http.HandlerFunc
	CancelUnitHandler  http.HandlerFunc
	StatusHandler      http.HandlerFunc
	MergeHandler       http.HandlerFunc

	ListCredentials    http.HandlerFunc
	CreateCredential   http.HandlerFunc
	DeleteCredential   http.HandlerFunc
	ToggleCredential   http.HandlerFunc
	ReplaceCredentials http.HandlerFunc
	GetRotation        http.HandlerFunc
	UpdateRotation     http.HandlerFunc

	ListHistory     http.HandlerFunc
	GetHistoryEntry http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check and metrics
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Rate-limited API routes
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/generate", orNotImplemented(deps.GenerateHandler))
		r.Get("/api/v1/generate/{jobID}", orNotImplemented(deps.JobSnapshotHandler))
		r.Get("/api/v1/generate/{jobID}/stream", orNotImplemented(deps.JobStreamHandler))
		r.Delete("/api/v1/generate/{jobID}", orNotImplemented(deps.DiscardJobHandler))
		r.Post("/api/v1/generate/{jobID}/retry", orNotImplemented(deps.RetryJobHandler))
		r.Post("/api/v1/generate/{jobID}/units/{unitID}/retry", orNotImplemented(deps.RetryUnitHandler))
		r.Delete("/api/v1/generate/{jobID}/units/{unitID}", orNotImplemented(deps.CancelUnitHandler))

		r.Post("/api/v1/status", orNotImplemented(deps.StatusHandler))
		r.Post("/api/v1/merge", orNotImplemented(deps.MergeHandler))

		r.Get("/api/v1/history", orNotImplemented(deps.ListHistory))
		r.Get("/api/v1/history/{unitID}", orNotImplemented(deps.GetHistoryEntry))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Get("/api/v1/admin/credentials", orNotImplemented(deps.ListCredentials))
			r.Post("/api/v1/admin/credentials", orNotImplemented(deps.CreateCredential))
			r.Put("/api/v1/admin/credentials", orNotImplemented(deps.ReplaceCredentials))
			r.Delete("/api/v1/admin/credentials/{credentialID}", orNotImplemented(deps.DeleteCredential))
			r.Patch("/api/v1/admin/credentials/{credentialID}/toggle", orNotImplemented(deps.ToggleCredential))

			r.Get("/api/v1/admin/rotation", orNotImplemented(deps.GetRotation))
			r.Put("/api/v1/admin/rotation", orNotImplemented(deps.UpdateRotation))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
