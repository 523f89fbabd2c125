package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/core"
	"linkedai/internal/external"
	"linkedai/internal/types"
)

// maxWebhookBodySize caps the Stripe payload we are willing to read. Stripe
// events for our subscription flows are a few KB at most.
const maxWebhookBodySize = 64 * 1024

// SubscriptionStateUpdater is the subset of the subscription repository the
// webhook mutates.
type SubscriptionStateUpdater interface {
	ConfirmPayment(ctx context.Context, userID string) error
	UpdateSubscriptionStatus(ctx context.Context, userID string, newPlan types.PlanTier, status types.SubscriptionStatus, eventTimestamp time.Time) error
	UpdatePaymentFailure(ctx context.Context, userID string, failedAt time.Time) error
}

// StripeWebhookHandler receives subscription lifecycle events from Stripe.
// Handler errors after signature verification still return 200: Stripe
// retries on non-2xx, and retrying an event our own code choked on only
// produces duplicate failures. Failures are logged for operator follow-up.
type StripeWebhookHandler struct {
	subs          SubscriptionStateUpdater
	verifier      external.WebhookVerifier
	audit         AuditRecorder
	webhookSecret types.SecretString
	logger        *slog.Logger
}

// AuditRecorder appends to the audit log.
type AuditRecorder interface {
	Record(ctx context.Context, userID string, action types.AuditAction, targetID string, metadata json.RawMessage) error
}

// NewStripeWebhookHandler wires the webhook endpoint.
func NewStripeWebhookHandler(subs SubscriptionStateUpdater, verifier external.WebhookVerifier, audit AuditRecorder, webhookSecret types.SecretString, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		subs:          subs,
		verifier:      verifier,
		audit:         audit,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// RegisterRoutes mounts the webhook route.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Minimal projections of the Stripe event envelope. We only decode the
// fields we act on; everything else in the event is ignored.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Subscription      string            `json:"subscription"`
}

type stripeSubscription struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Metadata map[string]string `json:"metadata"`
}

// Handle verifies the signature, decodes the event envelope and routes it.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read webhook body", err))
		return
	}
	if len(body) > maxWebhookBodySize {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "webhook payload too large", nil))
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"), h.webhookSecret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "rejected stripe webhook with bad signature", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid webhook signature", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed webhook event", err))
		return
	}

	if err := h.routeEvent(r.Context(), &event); err != nil {
		// Acknowledged anyway; see the type comment.
		h.logger.ErrorContext(r.Context(), "stripe webhook processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"received": event.ID}})
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)
	case external.EventStripeInvoicePaid:
		return h.handleInvoicePaid(ctx, event)
	case external.EventStripePaymentFailed:
		return h.handlePaymentFailed(ctx, event)
	case external.EventStripeSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)
	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.DebugContext(ctx, "ignoring unhandled stripe event type", "event_type", event.Type)
		return nil
	}
}

func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed checkout session object", err)
	}

	userID := session.Metadata["user_id"]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "checkout session carries no user reference", nil)
	}

	// The checkout session does not include the price; the follow-up
	// customer.subscription.updated event carries the plan. Activating here
	// just stops the user from sitting in limbo if that event is delayed.
	return h.subs.UpdateSubscriptionStatus(ctx, userID, types.PlanStarter, types.SubStatusActive, eventTime(event))
}

func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed invoice object", err)
	}

	userID := invoiceUserID(&invoice)
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "invoice carries no user reference", nil)
	}

	// Payment landing clears dunning state only. The cycle reset phase owns
	// rolling the billing period so usage counters always reset exactly once.
	if err := h.subs.ConfirmPayment(ctx, userID); err != nil {
		return err
	}

	h.recordAudit(ctx, userID, types.AuditPaymentConfirmed, event.ID, map[string]any{"event_type": event.Type})
	return nil
}

func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed invoice object", err)
	}

	userID := invoiceUserID(&invoice)
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "invoice carries no user reference", nil)
	}

	return h.subs.UpdatePaymentFailure(ctx, userID, eventTime(event))
}

func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed subscription object", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "subscription carries no user reference", nil)
	}

	plan := types.PlanFree
	if len(sub.Items.Data) > 0 {
		plan = external.MapPriceIDToPlan(sub.Items.Data[0].Price.ID)
	}

	return h.subs.UpdateSubscriptionStatus(ctx, userID, plan, mapStripeStatus(sub.Status), eventTime(event))
}

func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "malformed subscription object", err)
	}

	userID := sub.Metadata["user_id"]
	if userID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "subscription carries no user reference", nil)
	}

	return h.subs.UpdateSubscriptionStatus(ctx, userID, types.PlanFree, types.SubStatusCanceled, eventTime(event))
}

// invoiceUserID digs the user reference out of an invoice. Stripe copies
// subscription metadata into subscription_details on invoice events.
func invoiceUserID(invoice *stripeInvoice) string {
	if id := invoice.SubscriptionDetails.Metadata["user_id"]; id != "" {
		return id
	}
	return invoice.Metadata["user_id"]
}

// mapStripeStatus folds Stripe's subscription statuses onto the three local
// states. Trialing and incomplete grant access; anything terminal maps to
// canceled.
func mapStripeStatus(status string) types.SubscriptionStatus {
	switch status {
	case "past_due", "unpaid":
		return types.SubStatusPastDue
	case "canceled", "incomplete_expired":
		return types.SubStatusCanceled
	default:
		return types.SubStatusActive
	}
}

func eventTime(event *stripeWebhookEvent) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return time.Now().UTC()
}

func (h *StripeWebhookHandler) recordAudit(ctx context.Context, userID string, action types.AuditAction, targetID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	if err := h.audit.Record(ctx, userID, action, targetID, payload); err != nil {
		h.logger.WarnContext(ctx, "failed to record audit entry",
			"action", action,
			"target_id", targetID,
			"error", err,
		)
	}
}
