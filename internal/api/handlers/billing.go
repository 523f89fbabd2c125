package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/core"
	"linkedai/internal/external"
	"linkedai/internal/types"
)

// SubscriptionReader is the read side of the subscription repository used by
// the billing endpoints.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
}

// BillingHandler serves hosted checkout and customer portal session
// creation. The actual subscription state transitions happen through the
// Stripe webhook, never through these endpoints.
type BillingHandler struct {
	billing   external.BillingService
	subs      SubscriptionReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler wires the billing endpoints.
func NewBillingHandler(billing external.BillingService, subs SubscriptionReader, validator *core.Validator, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{billing: billing, subs: subs, validator: validator, logger: logger}
}

// RegisterRoutes mounts the billing routes.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.CreateCheckout)
	r.Post("/billing/portal", h.CreatePortal)
}

type checkoutRequest struct {
	UserID     string         `json:"user_id" validate:"required"`
	Email      string         `json:"email" validate:"required,email"`
	Plan       types.PlanTier `json:"plan" validate:"required,oneof=starter pro business"`
	SuccessURL string         `json:"success_url" validate:"required,url"`
	CancelURL  string         `json:"cancel_url" validate:"required,url"`
}

// CreateCheckout starts a hosted checkout flow for a paid plan.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, err := h.billing.EnsureCustomer(r.Context(), req.UserID, req.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), customerID, req.Plan, req.SuccessURL, req.CancelURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"checkout_url": url}})
}

type portalRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// CreatePortal returns a customer portal session for an existing Stripe
// customer.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if sub.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundSubscription, "user has no billing account", nil))
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), sub.StripeCustomerID, req.ReturnURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"portal_url": url}})
}
