// Package agent defines the decision-making collaborator that receives
// observations and a goal and returns actions. The orchestrator constrains
// only the cadence and budget of the exchange, never how the decision is
// made.
package agent

import (
	"context"
	"fmt"

	"github.com/spachava753/deskbench/internal/models"
)

// Agent decides the next action for a task given the latest observation.
type Agent interface {
	// Reset clears per-task state before a new task run starts.
	Reset()

	// Predict returns the next action for the goal. Returning an action
	// with a terminal type (done/fail) ends the step loop.
	Predict(ctx context.Context, goal string, obs *models.Observation) (models.Action, error)
}

// Factory builds one agent per worker so concurrent step loops never share
// conversation state.
type Factory func() (Agent, error)

// NewFactory returns a Factory for the configured agent kind.
func NewFactory(cfg models.AgentConfig) (Factory, error) {
	switch cfg.Kind {
	case "scripted":
		return func() (Agent, error) {
			return NewScripted(nil), nil
		}, nil
	case "model":
		return func() (Agent, error) {
			return NewModel(cfg)
		}, nil
	default:
		return nil, fmt.Errorf("unknown agent kind: %s", cfg.Kind)
	}
}
