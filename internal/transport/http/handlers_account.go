package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	admission "bookmarks/internal/admission/middleware"
	"bookmarks/internal/platform/metrics"
	id "bookmarks/pkg/domain"
	dErrors "bookmarks/pkg/domain-errors"
	"bookmarks/pkg/platform/httputil"
	"bookmarks/pkg/platform/sentinel"
	"bookmarks/pkg/requestcontext"
	"bookmarks/pkg/validation"
)

const maxBodyBytes = 64 << 10

// AccountStore holds the identity and consent writes exposed over HTTP.
// Every write invalidates the caller's cached identity before returning.
type AccountStore interface {
	RecordConsent(ctx context.Context, subject id.SubjectID, version string) error
	UpdateEmail(ctx context.Context, subject id.SubjectID, email *string) error
	DeleteUser(ctx context.Context, subject id.SubjectID) error
	CreateToken(ctx context.Context, subject id.SubjectID, name string) (id.TokenID, string, error)
	RevokeToken(ctx context.Context, subject id.SubjectID, tokenID id.TokenID) error
}

// AccountHandler serves the caller's own account endpoints.
type AccountHandler struct {
	store   AccountStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewAccountHandler(store AccountStore, logger *slog.Logger, m *metrics.Metrics) *AccountHandler {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{store: store, logger: logger, metrics: m}
}

func (h *AccountHandler) Register(r chi.Router) {
	r.Get("/me", h.handleMe)
	r.Patch("/users/me", h.handleUpdateMe)
	r.Delete("/users/me", h.handleDeleteMe)
	r.Post("/consent", h.handleRecordConsent)
	r.Post("/tokens", h.handleCreateToken)
	r.Delete("/tokens/{id}", h.handleRevokeToken)
	r.Get("/bookmarks/fetch-metadata", h.handleFetchMetadata)
}

type MeResponse struct {
	SubjectID      string  `json:"subject_id"`
	UserID         string  `json:"user_id"`
	Mechanism      string  `json:"mechanism"`
	Email          *string `json:"email"`
	ConsentVersion *string `json:"consent_version"`
}

type UpdateMeRequest struct {
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

type ConsentRequest struct {
	Version string `json:"version" validate:"required,notblank,max=64"`
}

type CreateTokenRequest struct {
	Name string `json:"name" validate:"required,notblank,max=64"`
}

type CreateTokenResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

type FetchMetadataRequest struct {
	URL string `validate:"required,url,max=2048"`
}

func (h *AccountHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := admission.PrincipalFrom(r.Context())
	entry, ok := admission.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no admitted identity"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MeResponse{
		SubjectID:      string(entry.SubjectID),
		UserID:         entry.UserID.String(),
		Mechanism:      string(p.Mechanism),
		Email:          entry.Email,
		ConsentVersion: entry.ConsentVersion,
	})
}

func (h *AccountHandler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req UpdateMeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.UpdateEmail(r.Context(), subject, req.Email); err != nil {
		h.writeStoreError(r.Context(), w, err, "user")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"email": req.Email})
}

func (h *AccountHandler) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteUser(r.Context(), subject); err != nil {
		h.writeStoreError(r.Context(), w, err, "user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req ConsentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.RecordConsent(r.Context(), subject, req.Version); err != nil {
		h.writeStoreError(r.Context(), w, err, "user")
		return
	}
	h.metrics.IncrementConsentsRecorded()
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"consent_version": req.Version})
}

func (h *AccountHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req CreateTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	tokenID, token, err := h.store.CreateToken(r.Context(), subject, req.Name)
	if err != nil {
		h.writeStoreError(r.Context(), w, err, "user")
		return
	}
	h.metrics.IncrementTokensIssued()
	httputil.WriteJSON(w, http.StatusCreated, CreateTokenResponse{ID: tokenID.String(), Name: req.Name, Token: token})
}

func (h *AccountHandler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.store.RevokeToken(r.Context(), subject, tokenID); err != nil {
		h.writeStoreError(r.Context(), w, err, "token")
		return
	}
	h.metrics.IncrementTokensRevoked()
	w.WriteHeader(http.StatusNoContent)
}

// handleFetchMetadata accepts a metadata fetch for later processing. The
// fetch itself belongs to the bookmark service behind this layer.
func (h *AccountHandler) handleFetchMetadata(w http.ResponseWriter, r *http.Request) {
	req := FetchMetadataRequest{URL: r.URL.Query().Get("url")}
	if err := validation.Validate(req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"url": req.URL, "status": "accepted"})
}

func (h *AccountHandler) subject(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	p, ok := admission.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no admitted principal"))
		return "", false
	}
	return p.Subject, true
}

func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	if err := validation.Validate(dst); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	return true
}

// writeStoreError maps store sentinels to responses once, here.
func (h *AccountHandler) writeStoreError(ctx context.Context, w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, what+" not found"))
	case errors.Is(err, sentinel.ErrInvalidInput):
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
	case errors.Is(err, sentinel.ErrUnavailable):
		h.logger.ErrorContext(ctx, "account write not confirmed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "change saved but not yet visible, retry shortly"))
	default:
		h.logger.ErrorContext(ctx, "account write failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "account update failed"))
	}
}
