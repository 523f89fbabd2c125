package types

// PublicationStatus represents the lifecycle state of a ScheduledPublication.
//
// Transitions:
//
//	draft -> scheduled        (user schedules, Scheduler)
//	scheduled -> draft        (user cancels, Scheduler)
//	scheduled -> published    (publish succeeded, Worker)
//	scheduled -> failed       (retries exhausted or fatal error, Worker)
type PublicationStatus string

const (
	PublicationDraft     PublicationStatus = "draft"
	PublicationScheduled PublicationStatus = "scheduled"
	PublicationPublished PublicationStatus = "published"
	PublicationFailed    PublicationStatus = "failed"
)

// JobState is the queue-side state of a publish job in the delay store.
type JobState string

const (
	JobStateDelayed   JobState = "delayed"
	JobStateReady     JobState = "ready"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// PlanTier identifies a subscription plan.
type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanStarter  PlanTier = "starter"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

// SubscriptionStatus is the billing lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// ResourceType identifies a metered resource tracked per billing cycle.
type ResourceType string

const (
	ResourcePosts         ResourceType = "posts"
	ResourceAIGenerations ResourceType = "ai_generations"
	ResourceLeads         ResourceType = "leads"
	ResourcePredictions   ResourceType = "predictions"
)

// AuditAction identifies the kind of event recorded in the audit log.
type AuditAction string

const (
	AuditPublicationScheduled AuditAction = "publication.scheduled"
	AuditPublicationCanceled  AuditAction = "publication.canceled"
	AuditPublicationPublished AuditAction = "publication.published"
	AuditPublicationFailed    AuditAction = "publication.failed"
	AuditCycleReset           AuditAction = "cycle.reset"
	AuditCycleReminderSent    AuditAction = "cycle.reminder_sent"
	AuditCycleDowngraded      AuditAction = "cycle.downgraded"
	AuditPaymentConfirmed     AuditAction = "billing.payment_confirmed"
	AuditPaymentFailed        AuditAction = "billing.payment_failed"
)
