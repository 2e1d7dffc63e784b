package agent

import (
	"context"

	"github.com/spachava753/deskbench/internal/models"
)

// Scripted replays a fixed action sequence and then signals completion.
// Used for dry runs and tests; with a nil script it completes immediately.
type Scripted struct {
	script []models.Action
	pos    int
}

// NewScripted creates a scripted agent from the given sequence.
func NewScripted(script []models.Action) *Scripted {
	return &Scripted{script: script}
}

func (s *Scripted) Reset() {
	s.pos = 0
}

func (s *Scripted) Predict(ctx context.Context, goal string, obs *models.Observation) (models.Action, error) {
	if s.pos >= len(s.script) {
		return models.Action{Type: models.ActionDone}, nil
	}
	a := s.script[s.pos]
	s.pos++
	return a, nil
}
