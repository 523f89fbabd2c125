// Package handlers contains the HTTP handlers for the LinkedAI engine API:
// publication scheduling, billing sessions, internal task triggers and the
// Stripe webhook. Authentication of end users happens upstream; these
// handlers trust the user ID resolved by the gateway.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"linkedai/internal/core"
	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

// PublicationReader is the read side of the publication repository used by
// the HTTP layer.
type PublicationReader interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledPublication, error)
	Create(ctx context.Context, pub *types.ScheduledPublication) error
}

// Scheduling is the enqueuer surface the handler drives.
type Scheduling interface {
	Schedule(ctx context.Context, input scheduler.ScheduleInput) error
	Cancel(ctx context.Context, pubID, userID string) error
}

// PublicationHandler serves the publication lifecycle endpoints.
type PublicationHandler struct {
	pubs      PublicationReader
	enqueuer  Scheduling
	validator *core.Validator
	logger    *slog.Logger
}

// NewPublicationHandler wires the publication endpoints.
func NewPublicationHandler(pubs PublicationReader, enqueuer Scheduling, validator *core.Validator, logger *slog.Logger) *PublicationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicationHandler{pubs: pubs, enqueuer: enqueuer, validator: validator, logger: logger}
}

// RegisterRoutes mounts the publication routes.
func (h *PublicationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/publications", h.Create)
	r.Get("/publications/{id}", h.Get)
	r.Post("/publications/{id}/schedule", h.Schedule)
	r.Post("/publications/{id}/cancel", h.Cancel)
}

type createPublicationRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	Content      string `json:"content" validate:"required,max=3000"`
	MediaURL     string `json:"media_url,omitempty" validate:"omitempty,url"`
	AccountURN   string `json:"account_urn" validate:"required"`
	CredentialID string `json:"credential_id" validate:"required"`
}

// Create stores a new draft publication.
func (h *PublicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPublicationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	pub := &types.ScheduledPublication{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Content:      req.Content,
		MediaURL:     req.MediaURL,
		AccountURN:   req.AccountURN,
		CredentialID: req.CredentialID,
		Status:       types.PublicationDraft,
	}
	if err := h.pubs.Create(r.Context(), pub); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: pub})
}

// Get returns a single publication row.
func (h *PublicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	pub, err := h.pubs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: pub})
}

type scheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

// Schedule flips the publication to scheduled and enqueues the delayed
// publish job. The job payload is built from the stored row, never from the
// request, so the scheduled content is exactly what was created.
func (h *PublicationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	pubID := chi.URLParam(r, "id")

	var req scheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	pub, err := h.pubs.GetByID(r.Context(), pubID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	input := scheduler.ScheduleInput{
		PublicationID: pub.ID,
		UserID:        pub.UserID,
		Content:       pub.Content,
		MediaURL:      pub.MediaURL,
		AccountURN:    pub.AccountURN,
		CredentialID:  pub.CredentialID,
		ScheduledFor:  req.ScheduledFor,
	}
	if err := h.enqueuer.Schedule(r.Context(), input); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: map[string]any{
		"id":            pub.ID,
		"status":        types.PublicationScheduled,
		"scheduled_for": req.ScheduledFor.UTC(),
	}})
}

// Cancel returns a scheduled publication to draft and removes the pending
// job.
func (h *PublicationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	pubID := chi.URLParam(r, "id")

	pub, err := h.pubs.GetByID(r.Context(), pubID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.enqueuer.Cancel(r.Context(), pub.ID, pub.UserID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"id":     pub.ID,
		"status": types.PublicationDraft,
	}})
}
