package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/core"
	"linkedai/internal/scheduler"
	"linkedai/internal/types"
)

// SweepRunner runs one sweep pass over the delay store.
type SweepRunner interface {
	Sweep(ctx context.Context) (scheduler.SweepSummary, error)
}

// CycleRunner executes billing cycle reconciliation phases.
type CycleRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, refTime *time.Time) (*scheduler.ReconcileSummary, error)
}

// QueueStatsReader reports delay-store depth by state.
type QueueStatsReader interface {
	Stats(ctx context.Context) (*types.QueueStats, error)
}

// InternalHandler exposes operator trigger endpoints. The routes sit behind
// the shared internal token; in production EventBridge drives the same code
// paths through the Lambda entrypoints and these exist for local runs and
// incident response.
type InternalHandler struct {
	sweeper    SweepRunner
	reconciler CycleRunner
	jobs       QueueStatsReader
	logger     *slog.Logger
}

// NewInternalHandler wires the internal trigger endpoints.
func NewInternalHandler(sweeper SweepRunner, reconciler CycleRunner, jobs QueueStatsReader, logger *slog.Logger) *InternalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalHandler{sweeper: sweeper, reconciler: reconciler, jobs: jobs, logger: logger}
}

// RegisterRoutes mounts the internal routes. The caller is expected to wrap
// the router group in core.InternalAuthMiddleware.
func (h *InternalHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tasks/sweep", h.RunSweep)
	r.Post("/tasks/cycle", h.RunCycle)
	r.Get("/queue/stats", h.QueueStats)
}

// RunSweep triggers a single sweep pass and returns its tally.
func (h *InternalHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// RunCycle triggers billing cycle reconciliation. The body selects the phase
// and may pin a reference time for replaying a past window.
func (h *InternalHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	var payload scheduler.ReconcilePayload
	if err := core.DecodeJSON(w, r, &payload); err != nil {
		core.Error(w, r, err)
		return
	}
	if payload.Task == "" {
		payload.Task = scheduler.TaskCycleReconcile
	}

	summary, err := h.reconciler.Run(r.Context(), payload.Task, payload.ReferenceTime)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// QueueStats reports the delay-store depth by state.
func (h *InternalHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}
