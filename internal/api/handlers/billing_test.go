package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/core"
	"linkedai/internal/types"
)

type mockBilling struct {
	customerID  string
	checkoutURL string
	portalURL   string
	ensured     []string
	checkouts   []types.PlanTier
	portals     []string
	canceled    []string
	err         error
}

func (m *mockBilling) EnsureCustomer(_ context.Context, userID, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.ensured = append(m.ensured, userID)
	return m.customerID, nil
}

func (m *mockBilling) CreateCheckoutSession(_ context.Context, _ string, plan types.PlanTier, _, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.checkouts = append(m.checkouts, plan)
	return m.checkoutURL, nil
}

func (m *mockBilling) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.portals = append(m.portals, customerID)
	return m.portalURL, nil
}

func (m *mockBilling) CancelSubscription(_ context.Context, subscriptionID string) error {
	m.canceled = append(m.canceled, subscriptionID)
	return nil
}

type mockSubReader struct {
	subs map[string]*types.Subscription
}

func (m *mockSubReader) GetByUserID(_ context.Context, userID string) (*types.Subscription, error) {
	sub, ok := m.subs[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return sub, nil
}

func serveBilling(h *BillingHandler, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCheckout_ReturnsRedirectURL(t *testing.T) {
	billing := &mockBilling{customerID: "cus_1", checkoutURL: "https://checkout.stripe.com/c/sess_1"}
	h := NewBillingHandler(billing, &mockSubReader{}, core.NewValidator(), testLogger())

	body := `{"user_id":"user-1","email":"u@example.com","plan":"pro","success_url":"https://app.example.com/ok","cancel_url":"https://app.example.com/cancel"}`
	w := serveBilling(h, "/billing/checkout", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(billing.ensured) != 1 || billing.ensured[0] != "user-1" {
		t.Errorf("ensured = %v, want [user-1]", billing.ensured)
	}
	if len(billing.checkouts) != 1 || billing.checkouts[0] != types.PlanPro {
		t.Errorf("checkouts = %v, want [pro]", billing.checkouts)
	}
	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Data["checkout_url"] != billing.checkoutURL {
		t.Errorf("checkout_url = %q", resp.Data["checkout_url"])
	}
}

func TestCreateCheckout_FreePlanRejected(t *testing.T) {
	billing := &mockBilling{}
	h := NewBillingHandler(billing, &mockSubReader{}, core.NewValidator(), testLogger())

	body := `{"user_id":"user-1","email":"u@example.com","plan":"free","success_url":"https://a.example.com","cancel_url":"https://a.example.com"}`
	w := serveBilling(h, "/billing/checkout", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(billing.ensured) != 0 {
		t.Error("invalid plan must not reach the billing provider")
	}
}

func TestCreatePortal_UsesStoredCustomerID(t *testing.T) {
	billing := &mockBilling{portalURL: "https://billing.stripe.com/p/sess_1"}
	subs := &mockSubReader{subs: map[string]*types.Subscription{
		"user-1": {UserID: "user-1", StripeCustomerID: "cus_42"},
	}}
	h := NewBillingHandler(billing, subs, core.NewValidator(), testLogger())

	body := `{"user_id":"user-1","return_url":"https://app.example.com/settings"}`
	w := serveBilling(h, "/billing/portal", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(billing.portals) != 1 || billing.portals[0] != "cus_42" {
		t.Errorf("portals = %v, want [cus_42]", billing.portals)
	}
}

func TestCreatePortal_NoCustomerIs404(t *testing.T) {
	billing := &mockBilling{}
	subs := &mockSubReader{subs: map[string]*types.Subscription{
		"user-1": {UserID: "user-1"},
	}}
	h := NewBillingHandler(billing, subs, core.NewValidator(), testLogger())

	body := `{"user_id":"user-1","return_url":"https://app.example.com/settings"}`
	w := serveBilling(h, "/billing/portal", body)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if len(billing.portals) != 0 {
		t.Error("missing customer must not open a portal session")
	}
}

func TestCreateCheckout_ProviderFailureIs502(t *testing.T) {
	billing := &mockBilling{err: types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", nil)}
	h := NewBillingHandler(billing, &mockSubReader{}, core.NewValidator(), testLogger())

	body := `{"user_id":"user-1","email":"u@example.com","plan":"starter","success_url":"https://a.example.com","cancel_url":"https://a.example.com"}`
	w := serveBilling(h, "/billing/checkout", body)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}
