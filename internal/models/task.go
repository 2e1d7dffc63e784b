package models

import "time"

// SetupStep is one pre-condition applied to an environment before the agent
// loop starts. Type selects the handler; Parameters are handler-specific.
type SetupStep struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CheckerSpec declares how task completion is decided. Type must name a
// registered checker; unknown types fail catalog loading.
type CheckerSpec struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Expected   any            `json:"expected,omitempty"`

	// Conj combines Checkers when more than one is given: "and" (default)
	// requires all to pass, "or" requires any.
	Conj     string        `json:"conj,omitempty"`
	Checkers []CheckerSpec `json:"checkers,omitempty"`
}

// TaskSpec is an immutable benchmark task descriptor loaded from the catalog.
type TaskSpec struct {
	ID          string      `json:"id"`
	Domain      string      `json:"domain"`
	Instruction string      `json:"instruction"`
	Setup       []SetupStep `json:"setup,omitempty"`
	Checker     CheckerSpec `json:"checker"`

	// RelatedApps lists guest applications the task touches. Informational.
	RelatedApps []string `json:"related_apps,omitempty"`

	// Snapshot names the clean state the environment should be reverted to
	// before the task runs, for backends that support named snapshots.
	Snapshot string `json:"snapshot,omitempty"`

	// MaxSteps and TimeBudgetSec override the suite-level budgets when > 0.
	MaxSteps      int     `json:"max_steps,omitempty"`
	TimeBudgetSec float64 `json:"time_budget_sec,omitempty"`
}

// StepBudget resolves the effective step budget for this task.
func (t TaskSpec) StepBudget(suiteDefault int) int {
	if t.MaxSteps > 0 {
		return t.MaxSteps
	}
	return suiteDefault
}

// TimeBudget resolves the effective wall-clock budget for this task.
func (t TaskSpec) TimeBudget(suiteDefault time.Duration) time.Duration {
	if t.TimeBudgetSec > 0 {
		return time.Duration(t.TimeBudgetSec * float64(time.Second))
	}
	return suiteDefault
}

// Catalog is the full set of loaded tasks, grouped by domain in registry
// order. Read-only after load.
type Catalog struct {
	Name    string
	Domains []string
	Tasks   []TaskSpec
}

// Filter returns the tasks matching the given domain, or all tasks when
// domain is empty. Order is preserved.
func (c *Catalog) Filter(domain string, maxTasks int) []TaskSpec {
	var out []TaskSpec
	for _, t := range c.Tasks {
		if domain != "" && t.Domain != domain {
			continue
		}
		out = append(out, t)
		if maxTasks > 0 && len(out) == maxTasks {
			break
		}
	}
	return out
}
