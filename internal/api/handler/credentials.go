package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/api/response"
	"github.com/reelforge/reelforge/internal/credential"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/pkg/models"
)

// CredentialStore is the durable side of credential administration.
// The pool is the runtime owner; every admin mutation is written here
// first and applied to the pool second, so a failed write never leaves
// the pool ahead of the database.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	SetCredentialActive(ctx context.Context, id uuid.UUID, active bool) error
	ReplaceCredentials(ctx context.Context, creds []*models.Credential) error
	SaveRotationPolicy(ctx context.Context, policy *models.RotationPolicy) error
}

// credentialView is the admin listing shape: the secret goes out
// masked, never raw.
type credentialView struct {
	ID           uuid.UUID  `json:"id"`
	Label        string     `json:"label"`
	Secret       string     `json:"secret"`
	IsActive     bool       `json:"is_active"`
	RequestCount int        `json:"request_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func viewOf(c models.Credential) credentialView {
	return credentialView{
		ID:           c.ID,
		Label:        c.Label,
		Secret:       c.MaskedSecret(),
		IsActive:     c.IsActive,
		RequestCount: c.RequestCount,
		LastUsedAt:   c.LastUsedAt,
		CreatedAt:    c.CreatedAt,
	}
}

// NewListCredentialsHandler returns the handler for
// GET /api/v1/admin/credentials.
func NewListCredentialsHandler(pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		creds := pool.List()
		out := make([]credentialView, 0, len(creds))
		for _, c := range creds {
			out = append(out, viewOf(c))
		}
		response.JSON(w, out)
	}
}

type credentialRequest struct {
	Label  string `json:"label"`
	Secret string `json:"secret"`
}

func (r credentialRequest) validate() string {
	if r.Secret == "" {
		return "secret is required"
	}
	if r.Label == "" {
		return "label is required"
	}
	return ""
}

func newCredential(r credentialRequest) models.Credential {
	now := time.Now().UTC()
	return models.Credential{
		ID:        uuid.New(),
		Label:     r.Label,
		Secret:    r.Secret,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCreateCredentialHandler returns the handler for
// POST /api/v1/admin/credentials.
func NewCreateCredentialHandler(st CredentialStore, pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if msg := req.validate(); msg != "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
			return
		}

		cred := newCredential(req)
		if err := st.CreateCredential(r.Context(), &cred); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not persist credential", nil)
			return
		}
		pool.Add(cred)

		response.Created(w, viewOf(cred))
	}
}

// NewDeleteCredentialHandler returns the handler for
// DELETE /api/v1/admin/credentials/{credentialID}.
func NewDeleteCredentialHandler(st CredentialStore, pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "credentialID")
		if !ok {
			return
		}

		if err := st.DeleteCredential(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Unknown credential", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not delete credential", nil)
			return
		}
		pool.Remove(id)

		response.JSON(w, map[string]any{"id": id, "deleted": true})
	}
}

// NewToggleCredentialHandler returns the handler for
// PATCH /api/v1/admin/credentials/{credentialID}/toggle.
func NewToggleCredentialHandler(st CredentialStore, pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "credentialID")
		if !ok {
			return
		}

		cred, found := pool.Get(id)
		if !found {
			response.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Unknown credential", nil)
			return
		}

		active := !cred.IsActive
		if err := st.SetCredentialActive(r.Context(), id, active); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not update credential", nil)
			return
		}
		pool.SetActive(id, active)

		cred.IsActive = active
		response.JSON(w, viewOf(*cred))
	}
}

// NewReplaceCredentialsHandler returns the handler for
// PUT /api/v1/admin/credentials: the whole pool is swapped in one
// operation.
func NewReplaceCredentialsHandler(st CredentialStore, pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Credentials []credentialRequest `json:"credentials"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		creds := make([]models.Credential, 0, len(req.Credentials))
		rows := make([]*models.Credential, 0, len(req.Credentials))
		for i, cr := range req.Credentials {
			if msg := cr.validate(); msg != "" {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					msg, map[string]any{"index": i})
				return
			}
			c := newCredential(cr)
			creds = append(creds, c)
			rows = append(rows, &c)
		}

		if err := st.ReplaceCredentials(r.Context(), rows); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not persist credentials", nil)
			return
		}
		pool.Swap(creds)

		out := make([]credentialView, 0, len(creds))
		for _, c := range creds {
			out = append(out, viewOf(c))
		}
		response.JSON(w, out)
	}
}

// NewGetRotationHandler returns the handler for
// GET /api/v1/admin/rotation.
func NewGetRotationHandler(pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		policy := pool.Policy()
		response.JSON(w, policy)
	}
}

// NewUpdateRotationHandler returns the handler for
// PUT /api/v1/admin/rotation. Batch bounds are clamped, not rejected;
// the effective policy is echoed back. Running jobs keep the policy
// they snapshotted at submission.
func NewUpdateRotationHandler(st CredentialStore, pool *credential.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var policy models.RotationPolicy
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if policy.IntervalMinutes < 0 || policy.MaxRequestsPerCredential < 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"rotation interval and request budget must not be negative", nil)
			return
		}
		policy.Clamp()

		if err := st.SaveRotationPolicy(r.Context(), &policy); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not persist rotation policy", nil)
			return
		}
		pool.SetPolicy(policy)

		response.JSON(w, policy)
	}
}
