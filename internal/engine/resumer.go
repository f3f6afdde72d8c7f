package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

type ResumerConfig struct {
	// PollSchedule and RepairSchedule accept cron expressions or descriptors such as "@every 30s".
	PollSchedule   string
	RepairSchedule string
	BatchSize      int
	Workers        int
	// RepairAfter is how long a running execution may go unmodified before it is considered stuck.
	RepairAfter time.Duration
}

// Resumer picks up waiting executions whose nextRunAt has passed and runs them again
// from their stored node. A repair job returns crashed running executions to waiting.
type Resumer struct {
	executions ExecutionRepo
	runner     Runner
	clock      core.Clock
	metrics    *Metrics
	cfg        ResumerConfig

	cron  *cron.Cron
	queue chan domain.WorkflowExecution
	wg    sync.WaitGroup
}

func NewResumer(executions ExecutionRepo, runner Runner, clock core.Clock, metrics *Metrics, cfg ResumerConfig) *Resumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RepairAfter <= 0 {
		cfg.RepairAfter = 10 * time.Minute
	}
	return &Resumer{
		executions: executions,
		runner:     runner,
		clock:      clock,
		metrics:    metrics,
		cfg:        cfg,
		cron:       cron.New(),
		queue:      make(chan domain.WorkflowExecution, cfg.BatchSize),
	}
}

// Start registers the poll and repair jobs and launches the worker pool. Workers stop when ctx is cancelled.
func (r *Resumer) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.cfg.PollSchedule, func() { r.PollDue(ctx) }); err != nil {
		return fmt.Errorf("invalid resume schedule %q: %w", r.cfg.PollSchedule, err)
	}
	if r.cfg.RepairSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.RepairSchedule, func() { r.RepairStuck(ctx) }); err != nil {
			return fmt.Errorf("invalid repair schedule %q: %w", r.cfg.RepairSchedule, err)
		}
	}

	slog.Info("Starting resumer", "workers", r.cfg.Workers, "queue_size", r.cfg.BatchSize, "poll_schedule", r.cfg.PollSchedule, "repair_schedule", r.cfg.RepairSchedule)
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(context.WithValue(ctx, core.CtxKeyWorkerId, i))
	}
	r.cron.Start()
	return nil
}

// Stop waits for running cron jobs, then for the workers to drain after ctx is cancelled.
func (r *Resumer) Stop() {
	<-r.cron.Stop().Done()
	r.wg.Wait()
	slog.Info("Resumer stopped")
}

// PollDue claims due executions and hands them to the workers. It returns how many were queued.
func (r *Resumer) PollDue(ctx context.Context) int {
	free := cap(r.queue) - len(r.queue)
	if free <= 0 {
		slog.WarnContext(ctx, "Resume queue full, skipping poll, possibly long running executions")
		return 0
	}

	due, err := r.executions.FindDue(ctx, r.clock.Now().UTC(), free)
	if err != nil {
		slog.ErrorContext(ctx, "Error fetching due executions", "error", err)
		return 0
	}

	queued := 0
	for _, exec := range due {
		if !r.executions.Claim(ctx, exec.ID, exec.Modified) {
			slog.InfoContext(ctx, "Unable to claim execution, possibly picked up by another instance", "execution_id", exec.ID)
			continue
		}
		slog.InfoContext(ctx, "Queueing execution for resume", "execution_id", exec.ID, "workflow_id", exec.WorkflowID, "client_id", exec.ClientID, "node_id", exec.CurrentNodeID)
		select {
		case r.queue <- exec:
			queued++
			r.metrics.observeResumed()
		case <-ctx.Done():
			return queued
		}
	}
	return queued
}

// RepairStuck releases running executions that have not been modified for RepairAfter so the
// next poll resumes them from their current node.
func (r *Resumer) RepairStuck(ctx context.Context) int {
	now := r.clock.Now().UTC()
	stuck, err := r.executions.FindStuck(ctx, now.Add(-r.cfg.RepairAfter), 100)
	if err != nil {
		slog.ErrorContext(ctx, "Error finding stuck executions", "error", err)
		return 0
	}
	repaired := 0
	for _, exec := range stuck {
		slog.WarnContext(ctx, "Repairing stuck execution", "execution_id", exec.ID, "node_id", exec.CurrentNodeID, "modified", exec.Modified)
		if r.executions.Release(ctx, exec.ID, exec.Modified, now) {
			repaired++
			r.metrics.observeRepaired()
		}
	}
	return repaired
}

func (r *Resumer) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case exec := <-r.queue:
			r.resume(ctx, exec)
		}
	}
}

func (r *Resumer) resume(ctx context.Context, exec domain.WorkflowExecution) {
	workerID := core.WorkerID(ctx)
	slog.InfoContext(ctx, "Worker resuming execution", "worker_id", workerID, "execution_id", exec.ID)
	res, err := r.runner.Run(ctx, exec.WorkflowID, exec.ClientID, RunOptions{ExecutionID: exec.ID})
	if err != nil {
		var nodeErr *NodeEvaluationError
		switch {
		case errors.As(err, &nodeErr), errors.Is(err, ErrMaxStepsExceeded):
			slog.WarnContext(ctx, "Resumed execution stopped", "worker_id", workerID, "execution_id", exec.ID, "error", err)
		default:
			slog.ErrorContext(ctx, "Error resuming execution", "worker_id", workerID, "execution_id", exec.ID, "error", err)
		}
		return
	}
	slog.InfoContext(ctx, "Worker finished execution", "worker_id", workerID, "execution_id", res.ExecutionID, "status", res.Status)
}
