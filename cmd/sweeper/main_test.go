package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

// mockSweep implements sweepRunner for tests.
type mockSweep struct {
	calls   int
	summary scheduler.SweepSummary
	err     error
}

func (m *mockSweep) Sweep(_ context.Context) (scheduler.SweepSummary, error) {
	m.calls++
	return m.summary, m.err
}

func newTestSweeperApp(sweep *mockSweep) *sweeperApp {
	return &sweeperApp{
		sweeper: sweep,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestHandle_RunsOneSweepPass(t *testing.T) {
	sweep := &mockSweep{summary: scheduler.SweepSummary{Promoted: 3, Executed: 2, Failed: 1}}
	app := newTestSweeperApp(sweep)

	if err := app.handle(context.Background()); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	if sweep.calls != 1 {
		t.Errorf("sweep calls = %d, want 1", sweep.calls)
	}
}

func TestHandle_SweepFailurePropagates(t *testing.T) {
	sweep := &mockSweep{err: types.NewAppError(types.ErrCodeInternalDB, "promote failed", nil)}
	app := newTestSweeperApp(sweep)

	// EventBridge sees the error and the invocation shows up as failed.
	if err := app.handle(context.Background()); err == nil {
		t.Fatal("handle() should surface the sweep error")
	}
}
