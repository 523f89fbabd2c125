package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type subStateCall struct {
	userID string
	plan   types.PlanTier
	status types.SubscriptionStatus
	at     time.Time
}

type mockSubState struct {
	confirmed  []string
	confirmErr error
	updates    []subStateCall
	failures   []subStateCall
	updateErr  error
}

func (m *mockSubState) ConfirmPayment(_ context.Context, userID string) error {
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirmed = append(m.confirmed, userID)
	return nil
}

func (m *mockSubState) UpdateSubscriptionStatus(_ context.Context, userID string, plan types.PlanTier, status types.SubscriptionStatus, at time.Time) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates = append(m.updates, subStateCall{userID: userID, plan: plan, status: status, at: at})
	return nil
}

func (m *mockSubState) UpdatePaymentFailure(_ context.Context, userID string, failedAt time.Time) error {
	m.failures = append(m.failures, subStateCall{userID: userID, at: failedAt})
	return nil
}

type mockVerifier struct {
	err error
}

func (m *mockVerifier) Verify(_ []byte, _ string, _ string) error { return m.err }

type auditEntry struct {
	userID   string
	action   types.AuditAction
	targetID string
}

type mockAudit struct {
	entries []auditEntry
}

func (m *mockAudit) Record(_ context.Context, userID string, action types.AuditAction, targetID string, _ json.RawMessage) error {
	m.entries = append(m.entries, auditEntry{userID: userID, action: action, targetID: targetID})
	return nil
}

func webhookRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	r.Header.Set("Stripe-Signature", "t=1,v1=sig")
	return r
}

func stripeEvent(eventType string, object string) string {
	return fmt.Sprintf(`{"id":"evt_1","type":%q,"created":1756500000,"data":{"object":%s}}`, eventType, object)
}

func newWebhookHandler(subs *mockSubState, verifier *mockVerifier, audit *mockAudit) *StripeWebhookHandler {
	// Avoid wrapping a typed nil *mockAudit in the AuditRecorder interface,
	// which would defeat the handler's nil check.
	var recorder AuditRecorder
	if audit != nil {
		recorder = audit
	}
	return NewStripeWebhookHandler(subs, verifier, recorder, types.SecretString("whsec_test"), testLogger())
}

func serveWebhook(h *StripeWebhookHandler, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, webhookRequest(body))
	return w
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{err: errors.New("bad signature")}, nil)

	w := serveWebhook(h, stripeEvent("invoice.paid", `{}`))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(subs.confirmed) != 0 {
		t.Error("state must not change on a rejected signature")
	}
}

func TestWebhook_InvoicePaidClearsDunningOnly(t *testing.T) {
	subs := &mockSubState{}
	audit := &mockAudit{}
	h := newWebhookHandler(subs, &mockVerifier{}, audit)

	invoice := `{"subscription_details":{"metadata":{"user_id":"user-1"}}}`
	w := serveWebhook(h, stripeEvent("invoice.paid", invoice))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(subs.confirmed) != 1 || subs.confirmed[0] != "user-1" {
		t.Errorf("confirmed = %v, want [user-1]", subs.confirmed)
	}
	if len(subs.updates) != 0 {
		t.Error("invoice.paid must not touch plan or status")
	}
	if len(audit.entries) != 1 || audit.entries[0].action != types.AuditPaymentConfirmed {
		t.Errorf("audit = %+v, want one payment_confirmed entry", audit.entries)
	}
}

func TestWebhook_InvoicePaidFallsBackToInvoiceMetadata(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	invoice := `{"metadata":{"user_id":"user-2"}}`
	serveWebhook(h, stripeEvent("invoice.paid", invoice))

	if len(subs.confirmed) != 1 || subs.confirmed[0] != "user-2" {
		t.Errorf("confirmed = %v, want [user-2]", subs.confirmed)
	}
}

func TestWebhook_PaymentFailedStartsDunning(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	invoice := `{"subscription_details":{"metadata":{"user_id":"user-1"}}}`
	w := serveWebhook(h, stripeEvent("invoice.payment_failed", invoice))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(subs.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(subs.failures))
	}
	want := time.Unix(1756500000, 0).UTC()
	if !subs.failures[0].at.Equal(want) {
		t.Errorf("failedAt = %v, want event created time %v", subs.failures[0].at, want)
	}
}

func TestWebhook_SubscriptionUpdatedMapsPriceToPlan(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	sub := `{"id":"sub_1","status":"active","metadata":{"user_id":"user-1"},"items":{"data":[{"price":{"id":"price_pro"}}]}}`
	serveWebhook(h, stripeEvent("customer.subscription.updated", sub))

	if len(subs.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(subs.updates))
	}
	got := subs.updates[0]
	if got.plan != types.PlanPro || got.status != types.SubStatusActive {
		t.Errorf("update = %+v, want pro/active", got)
	}
}

func TestWebhook_SubscriptionUpdatedUnknownPriceFallsToFree(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	sub := `{"id":"sub_1","status":"past_due","metadata":{"user_id":"user-1"},"items":{"data":[{"price":{"id":"price_mystery"}}]}}`
	serveWebhook(h, stripeEvent("customer.subscription.updated", sub))

	got := subs.updates[0]
	if got.plan != types.PlanFree || got.status != types.SubStatusPastDue {
		t.Errorf("update = %+v, want free/past_due", got)
	}
}

func TestWebhook_SubscriptionDeletedDropsToFree(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	sub := `{"id":"sub_1","status":"canceled","metadata":{"user_id":"user-1"}}`
	serveWebhook(h, stripeEvent("customer.subscription.deleted", sub))

	got := subs.updates[0]
	if got.plan != types.PlanFree || got.status != types.SubStatusCanceled {
		t.Errorf("update = %+v, want free/canceled", got)
	}
}

func TestWebhook_ProcessingFailureStillAcks(t *testing.T) {
	subs := &mockSubState{confirmErr: errors.New("db down")}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	invoice := `{"metadata":{"user_id":"user-1"}}`
	w := serveWebhook(h, stripeEvent("invoice.paid", invoice))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so stripe does not retry", w.Code)
	}
}

func TestWebhook_MissingUserReferenceAcks(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	w := serveWebhook(h, stripeEvent("invoice.paid", `{}`))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(subs.confirmed) != 0 {
		t.Error("no user reference, nothing should change")
	}
}

func TestWebhook_UnknownEventTypeIgnored(t *testing.T) {
	subs := &mockSubState{}
	h := newWebhookHandler(subs, &mockVerifier{}, nil)

	w := serveWebhook(h, stripeEvent("charge.refunded", `{}`))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(subs.updates) != 0 || len(subs.confirmed) != 0 || len(subs.failures) != 0 {
		t.Error("unhandled event must not mutate state")
	}
}

func TestMapStripeStatus(t *testing.T) {
	cases := map[string]types.SubscriptionStatus{
		"active":             types.SubStatusActive,
		"trialing":           types.SubStatusActive,
		"past_due":           types.SubStatusPastDue,
		"unpaid":             types.SubStatusPastDue,
		"canceled":           types.SubStatusCanceled,
		"incomplete_expired": types.SubStatusCanceled,
	}
	for in, want := range cases {
		if got := mapStripeStatus(in); got != want {
			t.Errorf("mapStripeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
