package types

import (
	"encoding/json"
	"time"
)

// ScheduledPublication is the source-of-truth record for a post scheduled for
// future publication to LinkedIn. It lives in the relational store and is the
// single arbiter of truth for the publish pipeline: the queue entry keyed by
// its ID is only a timer, and every terminal decision re-checks this row.
type ScheduledPublication struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Content
	Content  string `json:"content" db:"content"`
	MediaURL string `json:"media_url,omitempty" db:"media_url"`

	// Target
	AccountURN   string `json:"account_urn" db:"account_urn"`
	CredentialID string `json:"-" db:"credential_id"`

	// Lifecycle
	Status       PublicationStatus `json:"status" db:"status"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty" db:"scheduled_for"`
	PublishedAt  *time.Time        `json:"published_at,omitempty" db:"published_at"`

	// ExternalPostID is the LinkedIn post URN, set only on success.
	ExternalPostID string `json:"external_post_id,omitempty" db:"external_post_id"`
	FailureReason  string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PublishJobMessage is the payload carried through the delay store and the
// SQS hand-off queue. The JobID equals the publication ID, which guarantees
// idempotent re-scheduling: re-enqueueing the same ID replaces the pending
// entry instead of duplicating it.
//
// The embedded content is a snapshot taken at scheduling time; the worker
// never trusts it for status decisions and always re-reads the publication.
type PublishJobMessage struct {
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	Content      string    `json:"content"`
	MediaURL     string    `json:"media_url,omitempty"`
	AccountURN   string    `json:"account_urn"`
	CredentialID string    `json:"credential_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
	TraceID      string    `json:"trace_id"`

	// Attempt is the number of completed delivery attempts before this one.
	Attempt int `json:"attempt"`
}

// PublishJob is a delay-store row: the message plus queue bookkeeping.
type PublishJob struct {
	Message       PublishJobMessage
	State         JobState
	Attempts      int
	MaxAttempts   int
	RunAt         time.Time // when the job becomes due
	LeaseExpires  *time.Time
	LastError     string
	EnqueuedAt    time.Time
	CompletedAt   *time.Time
}

// QueueStats is a point-in-time census of the delay store, exposed for
// operational visibility.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Subscription is the billing aggregate for a single user. Usage counters are
// reset to zero only by the cycle reconciler's reset phase.
type Subscription struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Plan   PlanTier           `json:"plan" db:"plan"`
	Status SubscriptionStatus `json:"status" db:"status"`

	// Usage counters for the current billing period.
	PostsUsed         int `json:"posts_used" db:"posts_used"`
	AIGenerationsUsed int `json:"ai_generations_used" db:"ai_generations_used"`
	LeadsUsed         int `json:"leads_used" db:"leads_used"`
	PredictionsUsed   int `json:"predictions_used" db:"predictions_used"`

	// BillingAnniversaryDay is the day-of-month the cycle rolls, clamped to
	// 28 so it exists in every month.
	BillingAnniversaryDay int       `json:"billing_anniversary_day" db:"billing_anniversary_day"`
	CurrentPeriodStart    time.Time `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd      time.Time `json:"current_period_end" db:"current_period_end"`
	NextBillingDate       time.Time `json:"next_billing_date" db:"next_billing_date"`

	PaymentReminderSent bool `json:"payment_reminder_sent" db:"payment_reminder_sent"`

	// PaymentFailedAt marks the start of the dunning grace period; nil when
	// payments are healthy.
	PaymentFailedAt *time.Time `json:"payment_failed_at,omitempty" db:"payment_failed_at"`

	// Billing email and provider linkage.
	BillingEmail         string `json:"billing_email" db:"billing_email"`
	StripeCustomerID     string `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID string `json:"-" db:"stripe_subscription_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PlanLimits describes per-cycle resource caps for a plan tier.
// A value of 0 means the resource is not available on the tier, except for
// MaxConnectedAccounts where 0 means unlimited.
type PlanLimits struct {
	MaxPostsPerCycle     int  `json:"max_posts_per_cycle"`
	MaxAIGenerations     int  `json:"max_ai_generations"`
	MaxLeadsPerCycle     int  `json:"max_leads_per_cycle"`
	MaxPredictions       int  `json:"max_predictions"`
	MaxConnectedAccounts int  `json:"max_connected_accounts"`
	AllowScheduling      bool `json:"allow_scheduling"`
}

// AuditEntry is a single activity/audit record appended by the engine on
// terminal transitions and reconciler actions.
type AuditEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Action    AuditAction     `json:"action" db:"action"`
	TargetID  string          `json:"target_id" db:"target_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PublishResult is the outcome returned by the external publish API.
type PublishResult struct {
	ExternalPostID string
}

// SendInput defines the contract for email transmission.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}
