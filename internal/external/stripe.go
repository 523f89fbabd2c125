package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linkedai/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// UserBillingLookup provides the minimal data access StripeClient needs to
// resolve a user into a Stripe customer ID and billing email, without pulling
// in the full SubscriptionRepository surface.
type UserBillingLookup interface {
	// GetBillingInfo returns the stripe_customer_id and billing_email for the
	// given user. Returns ("", "", nil) when the user exists but has no
	// customer ID yet; an error when the user does not exist.
	GetBillingInfo(ctx context.Context, userID string) (stripeCustomerID string, billingEmail string, err error)

	// UpdateStripeCustomerID persists the customer ID for the given user.
	UpdateStripeCustomerID(ctx context.Context, userID string, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient, sharing the circuit breaker, retry, and
// error-mapping behavior of the other upstream clients.
type StripeClient struct {
	base       *BaseClient
	secretKey  string
	baseURL    string
	userLookup UserBillingLookup
	logger     *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, userLookup UserBillingLookup, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"LinkedAI/1.0",
		WithSleepFunc(time.Sleep),
	)
	return newStripeClient(base, userLookup, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient, useful in tests to control retry behavior.
func NewStripeClientWithBase(base *BaseClient, userLookup UserBillingLookup, cfg StripeClientConfig) *StripeClient {
	return newStripeClient(base, userLookup, cfg)
}

func newStripeClient(base *BaseClient, userLookup UserBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:       base,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userLookup: userLookup,
		logger:     logger,
	}
}

// EnsureCustomer retrieves or creates a Stripe customer for the given user.
// Search-first to prevent duplicate customers:
//  1. Query the Stripe Search API for a metadata['user_id'] match
//  2. If found, persist and return the existing customer ID
//  3. Otherwise create a new customer tagged with user_id metadata
func (s *StripeClient) EnsureCustomer(ctx context.Context, userID string, email string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['user_id']:'%s'", userID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		if dbErr := s.userLookup.UpdateStripeCustomerID(ctx, userID, customerID); dbErr != nil {
			s.logger.WarnContext(ctx, "failed to update stripe_customer_id in DB",
				"user_id", userID,
				"customer_id", customerID,
				"error", dbErr,
			)
		}
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[user_id]", userID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	if dbErr := s.userLookup.UpdateStripeCustomerID(ctx, userID, customer.ID); dbErr != nil {
		s.logger.WarnContext(ctx, "failed to update stripe_customer_id in DB after creation",
			"user_id", userID,
			"customer_id", customer.ID,
			"error", dbErr,
		)
	}

	return customer.ID, nil
}

// CreateCheckoutSession generates a Stripe Checkout Session and returns its
// hosted URL. client_reference_id carries the customer ID for webhook
// correlation.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	customerID string,
	plan types.PlanTier,
	successURL, cancelURL string,
) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[plan]", string(plan))
	params.Set("line_items[0][price]", stripePriceID(plan))
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL for the customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// CancelSubscription cancels the provider subscription immediately. A
// subscription that is already canceled on Stripe's side returns a
// resource_missing error, which is treated as success so downgrade re-runs
// stay idempotent.
func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/v1/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return err
	}
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "CancelSubscription")
	}
	return nil
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST to the Stripe API with a
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewRetryableError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewRetryableError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError passes through AppErrors from BaseClient since they already
// carry the right code and retryability.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// Stripe response types for JSON deserialization.

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PriceToPlan maps Stripe Price IDs to plan tiers. The IDs are placeholders
// overridden from environment configuration at startup.
var PriceToPlan = map[string]types.PlanTier{
	"price_starter":  types.PlanStarter,
	"price_pro":      types.PlanPro,
	"price_business": types.PlanBusiness,
}

// PlanToPrice maps plan tiers to Stripe Price IDs.
var PlanToPrice = map[types.PlanTier]string{
	types.PlanStarter:  "price_starter",
	types.PlanPro:      "price_pro",
	types.PlanBusiness: "price_business",
}

func stripePriceID(plan types.PlanTier) string {
	if id, ok := PlanToPrice[plan]; ok {
		return id
	}
	return "price_" + string(plan)
}

// MapPriceIDToPlan returns the plan tier for a Stripe Price ID, defaulting to
// the free tier for unknown prices.
func MapPriceIDToPlan(priceID string) types.PlanTier {
	if plan, ok := PriceToPlan[priceID]; ok {
		return plan
	}
	return types.PlanFree
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

var _ BillingService = (*StripeClient)(nil)
var _ WebhookVerifier = (*StripeVerifier)(nil)
