// Package evaluator decides task completion by applying a task's declared
// checker to the final environment state. Checkers are read-only with
// respect to the environment they inspect.
package evaluator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/models"
)

// FinalState is what a checker gets to inspect once the agent loop ends.
type FinalState struct {
	Instance   environment.Instance
	LastAction models.Action
	Steps      []models.StepRecord
}

// Checker inspects final state and returns a score in [0, 1] plus a human
// readable detail string.
type Checker func(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error)

var registry = map[string]Checker{
	"always_true":     checkAlwaysTrue,
	"infeasible":      checkInfeasible,
	"file_match":      checkFileMatch,
	"process_running": checkProcessRunning,
	"command_output":  checkCommandOutput,
}

// Validate recursively confirms every checker type in the spec is
// registered. Catalog loading calls this so a corrupt catalog fails the
// suite before any environment is provisioned.
func Validate(spec models.CheckerSpec) error {
	if len(spec.Checkers) > 0 {
		switch spec.Conj {
		case "", "and", "or":
		default:
			return fmt.Errorf("invalid conjunction %q", spec.Conj)
		}
		for i, sub := range spec.Checkers {
			if err := Validate(sub); err != nil {
				return fmt.Errorf("checker %d: %w", i, err)
			}
		}
		return nil
	}
	if _, ok := registry[spec.Type]; !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownCheckerType, spec.Type)
	}
	return nil
}

// Evaluate applies the checker spec to the final state. Composite specs
// combine sub-scores: "and" takes the minimum, "or" the maximum.
func Evaluate(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	if len(spec.Checkers) > 0 {
		return evaluateComposite(ctx, state, spec)
	}

	check, ok := registry[spec.Type]
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", models.ErrUnknownCheckerType, spec.Type)
	}
	return check(ctx, state, spec)
}

func evaluateComposite(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	var (
		score   float64
		details []string
	)
	if spec.Conj != "or" {
		score = 1
	}

	for _, sub := range spec.Checkers {
		s, d, err := Evaluate(ctx, state, sub)
		if err != nil {
			return 0, "", err
		}
		details = append(details, d)
		if spec.Conj == "or" {
			score = max(score, s)
		} else {
			score = min(score, s)
		}
	}
	return score, strings.Join(details, "; "), nil
}

func checkAlwaysTrue(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	return 1, "always true", nil
}

// checkInfeasible passes when the agent correctly recognized an impossible
// task and signalled failure instead of acting.
func checkInfeasible(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	if state.LastAction.Type == models.ActionFail {
		return 1, "agent signalled infeasible", nil
	}
	return 0, "agent did not signal infeasible", nil
}

// checkFileMatch downloads a guest file and compares it against an expected
// sha256 digest or literal content.
func checkFileMatch(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	path, _ := spec.Parameters["path"].(string)
	if path == "" {
		return 0, "", fmt.Errorf("file_match: missing path parameter")
	}

	content, err := state.Instance.Control().Download(ctx, path)
	if err != nil {
		return 0, fmt.Sprintf("file %s not readable: %v", path, err), nil
	}

	switch expected := spec.Expected.(type) {
	case string:
		if digest, ok := spec.Parameters["compare"].(string); ok && digest == "sha256" {
			sum := sha256.Sum256(content)
			if hex.EncodeToString(sum[:]) == strings.ToLower(expected) {
				return 1, "digest matches", nil
			}
			return 0, "digest mismatch", nil
		}
		if strings.TrimSpace(string(content)) == strings.TrimSpace(expected) {
			return 1, "content matches", nil
		}
		return 0, "content mismatch", nil
	default:
		return 0, "", fmt.Errorf("file_match: expected value must be a string")
	}
}

// checkProcessRunning greps the guest process table for a name.
func checkProcessRunning(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	name, _ := spec.Parameters["name"].(string)
	if name == "" {
		return 0, "", fmt.Errorf("process_running: missing name parameter")
	}

	result, err := state.Instance.Control().Execute(ctx, fmt.Sprintf("pgrep -f %q", name))
	if err != nil {
		return 0, "", fmt.Errorf("process_running: %w", err)
	}
	if result.ReturnCode == 0 && strings.TrimSpace(result.Output) != "" {
		return 1, fmt.Sprintf("process %s running", name), nil
	}
	return 0, fmt.Sprintf("process %s not running", name), nil
}

// checkCommandOutput runs an inspection command in the guest and matches
// its output. The command must be side-effect free; catalogs own that
// contract.
func checkCommandOutput(ctx context.Context, state FinalState, spec models.CheckerSpec) (float64, string, error) {
	command, _ := spec.Parameters["command"].(string)
	if command == "" {
		return 0, "", fmt.Errorf("command_output: missing command parameter")
	}
	expected, _ := spec.Expected.(string)
	match, _ := spec.Parameters["match"].(string)
	if match == "" {
		match = "exact"
	}

	result, err := state.Instance.Control().Execute(ctx, command)
	if err != nil {
		return 0, "", fmt.Errorf("command_output: %w", err)
	}
	if result.ReturnCode != 0 {
		return 0, fmt.Sprintf("command exited %d", result.ReturnCode), nil
	}

	got := strings.TrimSpace(result.Output)
	want := strings.TrimSpace(expected)

	var ok bool
	switch match {
	case "exact":
		ok = got == want
	case "contains":
		ok = strings.Contains(got, want)
	case "regex":
		re, err := regexp.Compile(want)
		if err != nil {
			return 0, "", fmt.Errorf("command_output: bad regex: %w", err)
		}
		ok = re.MatchString(got)
	default:
		return 0, "", fmt.Errorf("command_output: unknown match mode %q", match)
	}

	if ok {
		return 1, "output matches", nil
	}
	return 0, fmt.Sprintf("output mismatch: got %q", truncate(got, 200)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
