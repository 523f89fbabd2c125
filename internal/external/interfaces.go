package external

import (
	"context"

	"linkedai/internal/types"
)

// PublishAPI is the outbound social publishing surface. Implementations must
// return an AppError with Retryable set for transient failures so the worker
// can decide between re-delivery and a terminal failure.
type PublishAPI interface {
	// Publish creates the post on the external network and returns its
	// provider-assigned identifier.
	Publish(ctx context.Context, msg *types.PublishJobMessage) (*types.PublishResult, error)
}

// CredentialLookup resolves a stored credential ID to a usable access token.
// The token is fetched at publish time, never embedded in the job payload.
type CredentialLookup interface {
	GetAccessToken(ctx context.Context, credentialID string) (string, error)
}

// EmailProvider sends transactional email (payment reminders, publish
// failure notices).
type EmailProvider interface {
	// Send transmits a single email and returns the provider message ID.
	Send(ctx context.Context, input *types.SendInput) (string, error)
}

// BillingService abstracts the payment provider operations the engine needs.
type BillingService interface {
	// EnsureCustomer returns the provider customer ID for the user, creating
	// the customer record if one does not already exist.
	EnsureCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession starts a hosted checkout flow for the given plan
	// and returns the redirect URL.
	CreateCheckoutSession(ctx context.Context, customerID string, plan types.PlanTier, successURL, cancelURL string) (string, error)

	// CreatePortalSession returns a URL to the hosted billing portal.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// CancelSubscription cancels the provider subscription immediately.
	// Canceling an already-canceled subscription is not an error.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// WebhookVerifier validates inbound webhook signatures.
type WebhookVerifier interface {
	// Verify checks the payload signature and returns an error for any
	// tampered or misattributed delivery.
	Verify(payload []byte, signatureHeader string, secret string) error
}

// Stripe webhook event types the engine consumes.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentFailed     = "invoice.payment_failed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)
