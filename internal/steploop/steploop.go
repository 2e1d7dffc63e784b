// Package steploop runs a single task on a single ready environment: apply
// setup, alternate observe/predict/act until the agent signals or a budget
// runs out, then evaluate. One invocation produces exactly one TaskResult.
package steploop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spachava753/deskbench/internal/agent"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/evaluator"
	"github.com/spachava753/deskbench/internal/models"
	"github.com/spachava753/deskbench/internal/results"
)

// Runner executes task runs with suite-level budgets as defaults. Safe for
// concurrent use; all per-run state lives on the stack.
type Runner struct {
	maxSteps    int
	taskTimeout time.Duration
}

// NewRunner builds a Runner with the suite's default budgets. Tasks may
// override either budget in their spec.
func NewRunner(maxSteps int, taskTimeout time.Duration) *Runner {
	return &Runner{maxSteps: maxSteps, taskTimeout: taskTimeout}
}

// Run drives one task to completion on the given handle. The returned
// TaskResult always has a terminal status; Run never returns an error for
// task-level faults (those become error-status results), only for a
// cancelled context.
func (r *Runner) Run(ctx context.Context, task models.TaskSpec, handle *environment.Handle, ag agent.Agent, rec *results.TaskRecorder) models.TaskResult {
	started := time.Now()
	result := models.TaskResult{
		TaskID:     task.ID,
		Domain:     task.Domain,
		Generation: handle.Generation,
		StartedAt:  started,
	}

	finish := func() models.TaskResult {
		result.EndedAt = time.Now()
		result.DurationSec = result.EndedAt.Sub(started).Seconds()
		return result
	}
	fail := func(typ models.ErrorType, err error) models.TaskResult {
		result.Status = models.StatusError
		result.Error = &models.ErrorDetail{Type: typ, Message: err.Error()}
		slog.Error("task errored", "task", task.ID, "type", typ, "error", err)
		return finish()
	}

	inst, err := handle.Instance()
	if err != nil {
		return fail(models.ErrInternal, err)
	}

	log := slog.With("task", task.ID, "env", handle.ID, "generation", handle.Generation)
	log.Info("task starting", "instruction", task.Instruction)

	// Setting up. A failure here never counts against the agent.
	if err := inst.ApplySetup(ctx, task.Setup); err != nil {
		if ctx.Err() != nil {
			return fail(models.ErrCancelled, ctx.Err())
		}
		return fail(models.ErrSetupFailure, err)
	}

	ag.Reset()

	// Running. The wall-clock budget covers the agent loop only, not setup
	// or evaluation.
	deadline := time.Now().Add(task.TimeBudget(r.taskTimeout))
	stepBudget := task.StepBudget(r.maxSteps)

	var (
		lastAction models.Action
		timedOut   bool
	)

	for step := 0; step < stepBudget; step++ {
		if time.Now().After(deadline) {
			timedOut = true
			break
		}

		obs, err := inst.Observe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fail(models.ErrCancelled, ctx.Err())
			}
			return fail(models.ErrInstanceCommunication, err)
		}

		action, err := ag.Predict(ctx, task.Instruction, obs)
		if err != nil {
			if ctx.Err() != nil {
				return fail(models.ErrCancelled, ctx.Err())
			}
			return fail(models.ErrInternal, fmt.Errorf("agent prediction: %w", err))
		}

		actStart := time.Now()
		if _, err := inst.Act(ctx, action); err != nil {
			if ctx.Err() != nil {
				return fail(models.ErrCancelled, ctx.Err())
			}
			return fail(models.ErrInstanceCommunication, err)
		}

		record := models.StepRecord{
			Index:     step,
			Action:    action,
			ElapsedMS: time.Since(actStart).Milliseconds(),
			Timestamp: obs.CapturedAt,
		}
		if rec != nil {
			if err := rec.RecordStep(&record, obs.Screenshot); err != nil {
				return fail(models.ErrInternal, fmt.Errorf("recording step: %w", err))
			}
		}
		result.Steps = append(result.Steps, record)
		lastAction = action

		log.Debug("step completed", "step", step, "action", action.Type)

		if action.Terminal() {
			break
		}
	}

	// A completion signal on the last permitted step still counts as
	// completion, not a timeout.
	if !lastAction.Terminal() && !timedOut && len(result.Steps) == stepBudget {
		timedOut = true
	}

	// Evaluating.
	score, detail, err := evaluator.Evaluate(ctx, evaluator.FinalState{
		Instance:   inst,
		LastAction: lastAction,
		Steps:      result.Steps,
	}, task.Checker)
	if err != nil {
		if ctx.Err() != nil {
			return fail(models.ErrCancelled, ctx.Err())
		}
		if errors.Is(err, models.ErrUnknownCheckerType) {
			return fail(models.ErrUnknownChecker, err)
		}
		return fail(models.ErrCheckerFailed, err)
	}

	result.Score = score
	result.Detail = detail
	// An exhausted budget is a timeout no matter what the checker says; only
	// a terminal agent signal (which clears timedOut) can claim success.
	switch {
	case timedOut:
		result.Status = models.StatusTimeout
	case score >= 1.0:
		result.Status = models.StatusSuccess
	default:
		result.Status = models.StatusFailure
	}

	log.Info("task finished",
		"status", result.Status,
		"score", result.Score,
		"steps", len(result.Steps))

	return finish()
}
