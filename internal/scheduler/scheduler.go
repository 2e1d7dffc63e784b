// Package scheduler owns the environment pool and drives the suite: it
// provisions num_envs machines, feeds queued tasks to per-slot workers, and
// recycles each machine between tasks. The scheduler is the single writer of
// every handle's lifecycle state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/deskbench/internal/agent"
	"github.com/spachava753/deskbench/internal/config"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/metrics"
	"github.com/spachava753/deskbench/internal/models"
	"github.com/spachava753/deskbench/internal/results"
	"github.com/spachava753/deskbench/internal/steploop"
)

// releaseTimeout bounds best-effort teardown after the run context is gone.
const releaseTimeout = 2 * time.Minute

// Scheduler runs a task queue over a pool of environments.
type Scheduler struct {
	provider environment.Provider
	profile  config.Profile
	cfg      models.SuiteConfig
	runner   *steploop.Runner
	factory  agent.Factory
	store    *results.Store
	metrics  *metrics.Set
}

// New wires a scheduler. The store may have partial results from an earlier
// crashed run of the same run ID; those tasks are skipped.
func New(provider environment.Provider, profile config.Profile, cfg models.SuiteConfig, factory agent.Factory, store *results.Store, set *metrics.Set) *Scheduler {
	return &Scheduler{
		provider: provider,
		profile:  profile,
		cfg:      cfg,
		runner:   steploop.NewRunner(cfg.MaxSteps, cfg.TaskTimeout()),
		factory:  factory,
		store:    store,
		metrics:  set,
	}
}

// Run executes all tasks and returns the aggregated report. Cancellation
// stops cleanly: in-flight tasks end as error results, queued tasks are left
// unrun, and the report is marked cancelled.
func (s *Scheduler) Run(ctx context.Context, runID string, tasks []models.TaskSpec) (*models.SuiteReport, error) {
	agg := results.NewAggregator(runID)

	completed, err := s.store.LoadCompleted()
	if err != nil {
		return nil, fmt.Errorf("loading prior results: %w", err)
	}
	pending := make([]models.TaskSpec, 0, len(tasks))
	for _, task := range tasks {
		if prior, ok := completed[task.ID]; ok {
			slog.Info("skipping completed task", "task", task.ID, "status", prior.Status)
			agg.Add(prior)
			continue
		}
		pending = append(pending, task)
	}

	if len(pending) > 0 {
		if err := s.runPending(ctx, pending, agg); err != nil {
			return nil, err
		}
	}

	report := agg.Report(ctx.Err() != nil)
	if err := s.store.SaveReport(report); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}
	return report, nil
}

func (s *Scheduler) runPending(ctx context.Context, tasks []models.TaskSpec, agg *results.Aggregator) error {
	poolSize := s.cfg.NumEnvs
	if poolSize > len(tasks) {
		poolSize = len(tasks)
	}

	pool, err := s.provisionPool(ctx, poolSize)
	if err != nil {
		return err
	}

	queue := make(chan models.TaskSpec, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var wg sync.WaitGroup
	for _, handle := range pool {
		wg.Add(1)
		go func(h *environment.Handle) {
			defer wg.Done()
			s.worker(ctx, h, queue, agg)
		}(handle)
	}
	wg.Wait()
	return nil
}

// provisionPool acquires the initial environments concurrently. A slot whose
// acquire fails after all retries is dropped; the suite proceeds with a
// smaller pool as long as at least one machine came up.
func (s *Scheduler) provisionPool(ctx context.Context, size int) ([]*environment.Handle, error) {
	var (
		mu   sync.Mutex
		pool []*environment.Handle
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		slot := i
		g.Go(func() error {
			handle, err := s.acquireWithRetry(gctx)
			if err != nil {
				slog.Error("slot lost during initial provisioning", "slot", slot, "error", err)
				return nil
			}
			mu.Lock()
			pool = append(pool, handle)
			mu.Unlock()
			s.metrics.PoolSize.Inc()
			addr, vnc, err := s.provider.Address(handle)
			if err != nil {
				slog.Info("environment ready", "env", handle.ID)
			} else {
				slog.Info("environment ready", "env", handle.ID, "addr", addr, "vnc_port", vnc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(pool) == 0 {
		return nil, fmt.Errorf("no environments could be provisioned")
	}
	slog.Info("environment pool ready", "size", len(pool), "requested", size)
	return pool, nil
}

func (s *Scheduler) acquireWithRetry(ctx context.Context) (*environment.Handle, error) {
	acquireCfg := environment.AcquireConfig{
		Profile:          s.profile,
		ProvisionTimeout: s.cfg.ProvisionTimeout(),
		StepPause:        s.cfg.StepPause(),
	}

	attempts := s.cfg.ProvisionRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		handle, err := s.provider.Acquire(ctx, acquireCfg)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		slog.Warn("acquire failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)
	}
	return nil, fmt.Errorf("acquire failed after %d attempts: %w", attempts, lastErr)
}

// worker drains the queue on one pool slot. It owns the handle's state for
// its whole lifetime; nothing else mutates it.
func (s *Scheduler) worker(ctx context.Context, handle *environment.Handle, queue <-chan models.TaskSpec, agg *results.Aggregator) {
	defer func() {
		s.metrics.PoolSize.Dec()
		s.release(handle)
	}()

	ag, err := s.factory()
	if err != nil {
		slog.Error("slot lost: agent construction failed", "env", handle.ID, "error", err)
		return
	}

	fresh := true
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}

			// A freshly acquired machine is already clean; everything after
			// the first task gets recycled to the task's snapshot first.
			if !fresh {
				next, err := s.recycle(ctx, handle, task)
				if err != nil {
					slog.Error("slot lost: environment unrecoverable", "env", handle.ID, "error", err)
					s.record(agg, resetFailure(task, err))
					return
				}
				handle = next
			}
			fresh = false

			handle.State = models.StateBusy
			s.metrics.BusyEnvs.Inc()
			result := s.runTask(ctx, task, handle, ag)
			s.metrics.BusyEnvs.Dec()
			handle.State = models.StateReady

			s.record(agg, result)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *Scheduler) record(agg *results.Aggregator, result models.TaskResult) {
	agg.Add(result)
	s.metrics.ObserveResult(result)
	if err := s.store.SaveResult(result); err != nil {
		slog.Error("persisting result failed", "task", result.TaskID, "error", err)
	}
}

// resetFailure marks a dequeued task that never ran because its machine
// could not be recycled. Error status, so a resumed run retries it.
func resetFailure(task models.TaskSpec, err error) models.TaskResult {
	now := time.Now()
	return models.TaskResult{
		TaskID:    task.ID,
		Domain:    task.Domain,
		Status:    models.StatusError,
		Error:     &models.ErrorDetail{Type: models.ErrResetFailed, Message: err.Error()},
		StartedAt: now,
		EndedAt:   now,
	}
}

func (s *Scheduler) runTask(ctx context.Context, task models.TaskSpec, handle *environment.Handle, ag agent.Agent) models.TaskResult {
	rec, err := s.store.TaskRecorder(task)
	if err != nil {
		now := time.Now()
		return models.TaskResult{
			TaskID:     task.ID,
			Domain:     task.Domain,
			Generation: handle.Generation,
			Status:     models.StatusError,
			Error:      &models.ErrorDetail{Type: models.ErrInternal, Message: err.Error()},
			StartedAt:  now,
			EndedAt:    now,
		}
	}
	return s.runner.Run(ctx, task, handle, ag, rec)
}

// recycle restores the slot's machine to a clean state between tasks. Two
// consecutive reset failures retire the machine and provision a replacement;
// failing that too loses the slot.
func (s *Scheduler) recycle(ctx context.Context, handle *environment.Handle, task models.TaskSpec) (*environment.Handle, error) {
	acquireCfg := environment.AcquireConfig{
		Profile:          s.profile,
		ProvisionTimeout: s.cfg.ProvisionTimeout(),
		StepPause:        s.cfg.StepPause(),
	}
	if task.Snapshot != "" {
		acquireCfg.Profile.Snapshot = task.Snapshot
	}

	handle.State = models.StateResetting
	for attempt := 1; attempt <= 2; attempt++ {
		next, err := s.provider.Reset(ctx, handle, acquireCfg)
		if err == nil {
			s.metrics.Resets.WithLabelValues("ok").Inc()
			return next, nil
		}
		s.metrics.Resets.WithLabelValues("failure").Inc()
		slog.Warn("reset failed", "env", handle.ID, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	// The machine is wedged. Retire it and bring up a fresh one.
	slog.Warn("replacing wedged environment", "env", handle.ID)
	s.release(handle)
	s.metrics.Resets.WithLabelValues("replaced").Inc()

	next, err := s.acquireWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// release tears a handle down with its own deadline so cleanup still runs
// when the suite context is already cancelled.
func (s *Scheduler) release(handle *environment.Handle) {
	if handle == nil || handle.State == models.StateTerminated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.provider.Release(ctx, handle); err != nil {
		slog.Error("releasing environment failed", "env", handle.ID, "error", err)
	}
	handle.State = models.StateTerminated
}
