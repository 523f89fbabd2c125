package main

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

// --- Mock Types ---

// mockRunner implements taskRunner for tests.
type mockRunner struct {
	calls   int
	task    scheduler.TaskType
	refTime *time.Time
	summary *scheduler.ReconcileSummary
	err     error
}

func (m *mockRunner) Run(_ context.Context, task scheduler.TaskType, refTime *time.Time) (*scheduler.ReconcileSummary, error) {
	m.calls++
	m.task = task
	m.refTime = refTime
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

// mockLocks implements lockAcquirer for tests.
type mockLocks struct {
	acquired bool
	err      error
	lockID   string
	workerID string
}

func (m *mockLocks) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	m.lockID = lockID
	m.workerID = workerID
	return m.acquired, m.err
}

// mockHistory implements runHistory for tests.
type mockHistory struct {
	startErr   error
	started    []string
	finishedID int64
	status     string
	items      int
}

func (m *mockHistory) Start(_ context.Context, jobType string) (int64, error) {
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.started = append(m.started, jobType)
	return 42, nil
}

func (m *mockHistory) Finish(_ context.Context, id int64, status string, items int, _ error) error {
	m.finishedID = id
	m.status = status
	m.items = items
	return nil
}

// --- Helper Functions ---

func newTestApp(runner *mockRunner, locks *mockLocks, history *mockHistory) *reconcilerApp {
	return &reconcilerApp{
		reconciler: runner,
		locks:      locks,
		history:    history,
		workerID:   "worker-test-1",
		logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		now:        func() time.Time { return time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC) },
	}
}

func okSummary() *scheduler.ReconcileSummary {
	return &scheduler.ReconcileSummary{
		Reset:     scheduler.PhaseTally{Matched: 2, Processed: 2},
		Reminder:  scheduler.PhaseTally{Matched: 1, Processed: 1},
		Downgrade: scheduler.PhaseTally{},
	}
}

// --- Tests ---

func TestHandle_DefaultsToFullReconcile(t *testing.T) {
	runner := &mockRunner{summary: okSummary()}
	app := newTestApp(runner, &mockLocks{acquired: true}, &mockHistory{})

	if err := app.handle(context.Background(), scheduler.ReconcilePayload{}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if runner.task != scheduler.TaskCycleReconcile {
		t.Errorf("task = %q, want %q", runner.task, scheduler.TaskCycleReconcile)
	}
}

func TestHandle_LockHeldByAnotherWorkerSkips(t *testing.T) {
	runner := &mockRunner{summary: okSummary()}
	app := newTestApp(runner, &mockLocks{acquired: false}, &mockHistory{})

	if err := app.handle(context.Background(), scheduler.ReconcilePayload{}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0 when the hour is already held", runner.calls)
	}
}

func TestHandle_LockIDCoversTaskAndHour(t *testing.T) {
	locks := &mockLocks{acquired: true}
	app := newTestApp(&mockRunner{summary: okSummary()}, locks, &mockHistory{})

	if err := app.handle(context.Background(), scheduler.ReconcilePayload{Task: scheduler.TaskCycleDowngrade}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if want := "cycle_downgrade:2026-03-15T09"; locks.lockID != want {
		t.Errorf("lock ID = %q, want %q", locks.lockID, want)
	}
	if locks.workerID != "worker-test-1" {
		t.Errorf("worker ID = %q", locks.workerID)
	}
}

func TestHandle_ReferenceTimePinsTheLockHour(t *testing.T) {
	locks := &mockLocks{acquired: true}
	runner := &mockRunner{summary: okSummary()}
	app := newTestApp(runner, locks, &mockHistory{})

	pinned := time.Date(2026, 2, 1, 4, 0, 0, 0, time.UTC)
	payload := scheduler.ReconcilePayload{Task: scheduler.TaskCycleReset, ReferenceTime: &pinned}
	if err := app.handle(context.Background(), payload); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if want := "cycle_reset:2026-02-01T04"; locks.lockID != want {
		t.Errorf("lock ID = %q, want %q", locks.lockID, want)
	}
	if runner.refTime == nil || !runner.refTime.Equal(pinned) {
		t.Errorf("reference time = %v, want %v", runner.refTime, pinned)
	}
}

func TestHandle_RecordsHistoryOnSuccess(t *testing.T) {
	history := &mockHistory{}
	app := newTestApp(&mockRunner{summary: okSummary()}, &mockLocks{acquired: true}, history)

	if err := app.handle(context.Background(), scheduler.ReconcilePayload{}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if len(history.started) != 1 || history.started[0] != "cycle_reconcile" {
		t.Errorf("history started = %v", history.started)
	}
	if history.finishedID != 42 || history.status != "success" {
		t.Errorf("history finish = (%d, %q), want (42, success)", history.finishedID, history.status)
	}
	if history.items != 3 {
		t.Errorf("history items = %d, want 3", history.items)
	}
}

func TestHandle_RunFailureRecordsFailedHistory(t *testing.T) {
	history := &mockHistory{}
	runner := &mockRunner{err: types.NewAppError(types.ErrCodeInternalDB, "list failed", nil)}
	app := newTestApp(runner, &mockLocks{acquired: true}, history)

	if err := app.handle(context.Background(), scheduler.ReconcilePayload{}); err == nil {
		t.Fatal("handle() should surface the run error")
	}
	if history.status != "failed" {
		t.Errorf("history status = %q, want failed", history.status)
	}
}

func TestHandle_HistoryStartFailureDoesNotBlockTheRun(t *testing.T) {
	history := &mockHistory{startErr: types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil)}
	runner := &mockRunner{summary: okSummary()}
	app := newTestApp(runner, &mockLocks{acquired: true}, history)

	// History is observability, not correctness.
	if err := app.handle(context.Background(), scheduler.ReconcilePayload{}); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
	if history.finishedID != 0 {
		t.Errorf("no finish for an unopened history entry, got id %d", history.finishedID)
	}
}
