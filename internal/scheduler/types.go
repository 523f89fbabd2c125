// Package scheduler implements the scheduling side of the publish pipeline
// and the periodic batch jobs that run against the source-of-truth store:
// the enqueuer that turns a scheduled publication into a durable delay-store
// job, the sweep pass that promotes and drains due jobs, and the daily cycle
// reconciler.
package scheduler

import "time"

// TaskType identifies which periodic job an EventBridge event (or an internal
// trigger call) should run.
type TaskType string

const (
	// TaskCycleReconcile runs all three reconciler phases in order.
	TaskCycleReconcile TaskType = "cycle_reconcile"
	// TaskCycleReset runs only the usage-counter reset phase.
	TaskCycleReset TaskType = "cycle_reset"
	// TaskCycleReminder runs only the payment reminder phase.
	TaskCycleReminder TaskType = "cycle_reminder"
	// TaskCycleDowngrade runs only the grace-lapse downgrade phase.
	TaskCycleDowngrade TaskType = "cycle_downgrade"
)

// ReconcilePayload is the JSON payload sent by EventBridge to the reconciler
// Lambda. ReferenceTime lets manual invocations pin "now" for deterministic
// re-runs and backfills; when nil, time.Now().UTC() is used.
type ReconcilePayload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// SweepSummary reports one sweep pass.
type SweepSummary struct {
	Promoted int `json:"promoted"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// PhaseTally reports one reconciler phase: how many subscriptions matched,
// how many were acted on, and how many failed (recorded, never aborting the
// batch).
type PhaseTally struct {
	Matched   int `json:"matched"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ReconcileSummary aggregates the three phases of one reconciler run.
type ReconcileSummary struct {
	Reset     PhaseTally `json:"reset"`
	Reminder  PhaseTally `json:"reminder"`
	Downgrade PhaseTally `json:"downgrade"`
}
