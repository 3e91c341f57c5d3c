package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// Reconciler converges observed task state toward operator intent. It
// polls the task table, starts a runner goroutine per task whose
// desired_status is running, cancels runners whose task was stopped or
// deleted, and turns runner crashes into error rows.
type Reconciler struct {
	store        TaskStore
	full         *FullRunner
	incremental  *IncrementalRunner
	logger       *zap.Logger
	pollInterval time.Duration
	warmup       time.Duration
	tickPause    time.Duration

	runners map[int]*runnerHandle
}

type runnerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written before done is closed
}

// NewReconciler creates a reconciler over the given runners
func NewReconciler(store TaskStore, full *FullRunner, incremental *IncrementalRunner, pollInterval, warmup, tickPause time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		full:         full,
		incremental:  incremental,
		logger:       logger,
		pollInterval: pollInterval,
		warmup:       warmup,
		tickPause:    tickPause,
		runners:      make(map[int]*runnerHandle),
	}
}

// Run blocks until ctx is cancelled. The warmup delay lets the
// operator intervene after a restart before any traffic is generated.
func (r *Reconciler) Run(ctx context.Context) {
	if r.warmup > 0 {
		r.logger.Info("warmup before first reconcile", zap.Duration("warmup", r.warmup))
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.warmup):
		}
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.reconcile(ctx)
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-ticker.C:
		}
	}
}

// reconcile performs one convergence pass
func (r *Reconciler) reconcile(ctx context.Context) {
	r.reapFinished()

	tasks, err := r.store.ListSyncTasks(ctx)
	if err != nil {
		r.logger.Error("task listing failed", zap.Error(err))
		return
	}

	live := make(map[int]database.SyncTask, len(tasks))
	for _, t := range tasks {
		live[t.ID] = t
	}

	// Runners whose row vanished are cancelled and reaped next pass.
	for id, h := range r.runners {
		if _, ok := live[id]; !ok {
			r.logger.Info("task row gone, cancelling runner", zap.Int("task_id", id))
			h.cancel()
		}
	}

	for _, t := range tasks {
		h, running := r.runners[t.ID]
		switch {
		case t.DesiredStatus == database.DesiredRunning && !running:
			r.startRunner(ctx, t)
		case t.DesiredStatus != database.DesiredRunning && running:
			h.cancel()
		}
	}
}

// reapFinished collects exited runner goroutines. A runner that exited
// with a real error marks its task errored and clears intent so the
// reconciler does not restart a crash loop.
func (r *Reconciler) reapFinished() {
	for id, h := range r.runners {
		select {
		case <-h.done:
		default:
			continue
		}
		delete(r.runners, id)

		if h.err == nil || errors.Is(h.err, context.Canceled) {
			r.logger.Debug("runner exited", zap.Int("task_id", id))
			continue
		}

		r.logger.Error("runner crashed", zap.Int("task_id", id), zap.Error(h.err))
		r.failTask(id, h.err)
	}
}

// startRunner launches the per-task goroutine
func (r *Reconciler) startRunner(parent context.Context, t database.SyncTask) {
	runCtx, cancel := context.WithCancel(parent)
	h := &runnerHandle{cancel: cancel, done: make(chan struct{})}
	r.runners[t.ID] = h

	r.logger.Info("starting task runner",
		zap.Int("task_id", t.ID),
		zap.String("name", t.Name),
		zap.String("type", t.Type))

	go func() {
		defer close(h.done)
		h.err = r.runTask(runCtx, t.ID)
	}()
}

// runTask is the per-task loop: re-read the row, validate it, run one
// tick, pause, repeat. It exits when the task stops wanting to run,
// reaches a terminal state, or the context is cancelled.
func (r *Reconciler) runTask(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			r.markStopped(id)
			return ctx.Err()
		}

		rt, err := r.store.GetTaskRuntime(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				r.markStopped(id)
				return ctx.Err()
			}
			return err
		}
		if rt == nil {
			return nil
		}
		if rt.DesiredStatus != database.DesiredRunning {
			r.markStopped(id)
			return nil
		}

		if err := validateRuntime(rt); err != nil {
			r.failTask(id, err)
			return nil
		}

		var finished bool
		switch rt.Type {
		case database.TaskTypeFull:
			finished, err = r.full.Tick(ctx, rt)
		case database.TaskTypeIncremental:
			finished, err = r.incremental.Tick(ctx, rt)
		default:
			r.failTask(id, fmt.Errorf("unknown task type %q", rt.Type))
			return nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.markStopped(id)
			}
			return err
		}
		if finished {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.tickPause):
		}
	}
}

// validateRuntime rejects rows a runner cannot safely execute
func validateRuntime(rt *database.TaskRuntime) error {
	switch rt.Type {
	case database.TaskTypeFull:
		if !database.IsValidCategory(rt.Category) {
			return fmt.Errorf("unknown category %q", rt.Category)
		}
		if _, err := database.NormalizeFullConfig(rt.Config); err != nil {
			return err
		}
	case database.TaskTypeIncremental:
		if rt.Category != database.MixedCategory {
			return fmt.Errorf("incremental task must carry category %q, got %q", database.MixedCategory, rt.Category)
		}
		if _, err := database.NormalizeIncrementalConfig(rt.Config); err != nil {
			return err
		}
	}
	return nil
}

// markStopped records the task as stopped unless it already reached a
// terminal state. Uses a fresh context: the runner's own is usually
// already cancelled at this point.
func (r *Reconciler) markStopped(id int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt, err := r.store.GetTaskRuntime(ctx, id)
	if err != nil || rt == nil {
		return
	}
	if rt.Status == database.StatusCompleted || rt.Status == database.StatusError {
		return
	}

	err = r.store.UpdateTaskRuntime(ctx, id, database.TaskRuntimeUpdate{
		Status: strPtr(database.StatusStopped),
	})
	if err != nil {
		r.logger.Warn("stop mark failed", zap.Int("task_id", id), zap.Error(err))
	}
}

// failTask records an error state and clears intent
func (r *Reconciler) failTask(id int, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.store.UpdateTaskRuntime(ctx, id, database.TaskRuntimeUpdate{
		Status:       strPtr(database.StatusError),
		ErrorMessage: strPtr(cause.Error()),
	})
	if err != nil {
		r.logger.Warn("error mark failed", zap.Int("task_id", id), zap.Error(err))
	}
	if err := r.store.SetTaskDesiredStatus(ctx, id, database.DesiredStopped); err != nil {
		r.logger.Warn("intent clear failed", zap.Int("task_id", id), zap.Error(err))
	}
}

// shutdown cancels every runner and waits for all of them to exit
func (r *Reconciler) shutdown() {
	r.logger.Info("reconciler shutting down", zap.Int("runners", len(r.runners)))
	for _, h := range r.runners {
		h.cancel()
	}
	for id, h := range r.runners {
		<-h.done
		delete(r.runners, id)
	}
	r.logger.Info("all runners stopped")
}
