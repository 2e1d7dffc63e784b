// Package results persists per-task artifacts and builds the suite report.
// The on-disk layout is stable so a partially completed suite can be
// reloaded after a crash:
//
//	<result_dir>/<run_id>/<domain>/<task_id>/
//	    steps.jsonl     one StepRecord per line, append-only
//	    step_<n>.png    screenshot captured before step n's action
//	    result.json     final TaskResult, written once
//	<result_dir>/<run_id>/report.json
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spachava753/deskbench/internal/models"
)

// Store writes artifacts for one suite run.
type Store struct {
	runDir string
}

// NewStore creates the run directory under resultDir. An existing run
// directory is reused so crashed suites can resume.
func NewStore(resultDir, runID string) (*Store, error) {
	runDir := filepath.Join(resultDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &Store{runDir: runDir}, nil
}

// RunDir returns the directory all artifacts for this run live under.
func (s *Store) RunDir() string {
	return s.runDir
}

func (s *Store) taskDir(domain, taskID string) string {
	return filepath.Join(s.runDir, domain, taskID)
}

// TaskRecorder returns the per-task step sink for one task run. Creating it
// truncates any partial step log from an interrupted earlier attempt.
func (s *Store) TaskRecorder(task models.TaskSpec) (*TaskRecorder, error) {
	dir := s.taskDir(task.Domain, task.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating task directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "steps.jsonl"), nil, 0644); err != nil {
		return nil, fmt.Errorf("truncating step log: %w", err)
	}
	return &TaskRecorder{dir: dir}, nil
}

// TaskRecorder appends step artifacts for a single task run. Not safe for
// concurrent use; each step loop owns exactly one.
type TaskRecorder struct {
	dir string
}

// RecordStep writes the step's screenshot and appends the record to
// steps.jsonl. The record's ScreenshotPath is filled in before writing.
func (r *TaskRecorder) RecordStep(rec *models.StepRecord, screenshot []byte) error {
	if len(screenshot) > 0 {
		name := fmt.Sprintf("step_%d.png", rec.Index)
		if err := os.WriteFile(filepath.Join(r.dir, name), screenshot, 0644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		rec.ScreenshotPath = name
	}

	f, err := os.OpenFile(filepath.Join(r.dir, "steps.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening step log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding step record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending step record: %w", err)
	}
	return nil
}

// SaveResult writes the task's final result.json.
func (s *Store) SaveResult(result models.TaskResult) error {
	dir := s.taskDir(result.Domain, result.TaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating task directory: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// LoadCompleted scans the run directory for finished tasks so a resumed
// suite can skip them. Error-status results are not treated as completed;
// they should be re-run.
func (s *Store) LoadCompleted() (map[string]models.TaskResult, error) {
	completed := map[string]models.TaskResult{}

	domains, err := os.ReadDir(s.runDir)
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}

	for _, d := range domains {
		if !d.IsDir() {
			continue
		}
		tasks, err := os.ReadDir(filepath.Join(s.runDir, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading domain directory: %w", err)
		}
		for _, t := range tasks {
			if !t.IsDir() {
				continue
			}
			path := filepath.Join(s.runDir, d.Name(), t.Name(), "result.json")
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			var result models.TaskResult
			if err := json.Unmarshal(data, &result); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			if result.Status == models.StatusError {
				continue
			}
			completed[result.TaskID] = result
		}
	}
	return completed, nil
}

// SaveReport writes the suite-level report.json.
func (s *Store) SaveReport(report *models.SuiteReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.runDir, "report.json"), data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
