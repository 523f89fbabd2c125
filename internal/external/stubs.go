package external

import (
	"context"
	"fmt"
	"log/slog"

	"linkedai/internal/types"

	"github.com/google/uuid"
)

// Stub implementations let the application boot in local mode without real
// external credentials. They log every call and return predictable, safe
// defaults.

// StubBillingService implements BillingService by logging calls and returning
// test-safe defaults. Used when APP_ENV=local.
type StubBillingService struct {
	logger *slog.Logger
}

// NewStubBillingService creates a new StubBillingService.
func NewStubBillingService(logger *slog.Logger) *StubBillingService {
	return &StubBillingService{logger: logger}
}

func (s *StubBillingService) EnsureCustomer(ctx context.Context, userID string, email string) (string, error) {
	s.logger.InfoContext(ctx, "stub: EnsureCustomer called",
		"user_id", userID,
		"email", email,
	)
	return fmt.Sprintf("cus_stub_%s", userID), nil
}

func (s *StubBillingService) CreateCheckoutSession(ctx context.Context, customerID string, plan types.PlanTier, successURL, cancelURL string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"customer_id", customerID,
		"plan", plan,
	)
	return "https://checkout.stub.local/session", nil
}

func (s *StubBillingService) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	s.logger.InfoContext(ctx, "stub: CreatePortalSession called",
		"customer_id", customerID,
		"return_url", returnURL,
	)
	return "https://portal.stub.local/session", nil
}

func (s *StubBillingService) CancelSubscription(ctx context.Context, subscriptionID string) error {
	s.logger.InfoContext(ctx, "stub: CancelSubscription called",
		"subscription_id", subscriptionID,
	)
	return nil
}

// StubEmailProvider implements EmailProvider by logging calls and returning
// a fake message ID.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input *types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: email send called",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return "stub-msg-" + uuid.NewString(), nil
}

// StubPublishAPI implements PublishAPI by logging calls and returning a fake
// external post ID. Lets the worker path be exercised end to end locally.
type StubPublishAPI struct {
	logger *slog.Logger
}

// NewStubPublishAPI creates a new StubPublishAPI.
func NewStubPublishAPI(logger *slog.Logger) *StubPublishAPI {
	return &StubPublishAPI{logger: logger}
}

func (s *StubPublishAPI) Publish(ctx context.Context, msg *types.PublishJobMessage) (*types.PublishResult, error) {
	s.logger.InfoContext(ctx, "stub: publish called",
		"job_id", msg.JobID,
		"account_urn", msg.AccountURN,
	)
	return &types.PublishResult{
		ExternalPostID: "urn:li:share:stub-" + msg.JobID,
	}, nil
}

// StubWebhookVerifier accepts every payload. Local mode only.
type StubWebhookVerifier struct{}

func (v *StubWebhookVerifier) Verify(payload []byte, signatureHeader string, secret string) error {
	return nil
}

var (
	_ BillingService  = (*StubBillingService)(nil)
	_ EmailProvider   = (*StubEmailProvider)(nil)
	_ PublishAPI      = (*StubPublishAPI)(nil)
	_ WebhookVerifier = (*StubWebhookVerifier)(nil)
)
