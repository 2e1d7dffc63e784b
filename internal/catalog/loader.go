// Package catalog loads the benchmark task catalog: one directory per
// domain, one JSON TaskSpec file per task. The catalog is read once at
// suite start and treated as read-only.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spachava753/deskbench/internal/evaluator"
	"github.com/spachava753/deskbench/internal/models"
)

// Load reads all tasks under root. Malformed specs and unknown checker
// types fail the load entirely: a corrupt catalog must never start a run.
func Load(root string) (*models.Catalog, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog path: %w", err)
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("reading catalog directory: %w", err)
	}

	cat := &models.Catalog{Name: filepath.Base(absRoot)}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		domain := entry.Name()
		tasks, err := loadDomain(filepath.Join(absRoot, domain), domain)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", domain, err)
		}
		if len(tasks) == 0 {
			continue
		}
		cat.Domains = append(cat.Domains, domain)
		cat.Tasks = append(cat.Tasks, tasks...)
	}

	if len(cat.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in catalog %s", absRoot)
	}

	slog.Info("catalog loaded",
		"path", absRoot,
		"domains", len(cat.Domains),
		"tasks", len(cat.Tasks))

	return cat, nil
}

func loadDomain(dir, domain string) ([]models.TaskSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading domain directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var tasks []models.TaskSpec
	seen := map[string]bool{}
	for _, name := range names {
		spec, err := loadTask(filepath.Join(dir, name), domain)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("%s: duplicate task id %q", name, spec.ID)
		}
		seen[spec.ID] = true
		tasks = append(tasks, *spec)
	}
	return tasks, nil
}

func loadTask(path, domain string) (*models.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task spec: %w", err)
	}

	var spec models.TaskSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing task spec: %w", err)
	}

	if spec.ID == "" {
		spec.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if spec.Domain == "" {
		spec.Domain = domain
	} else if spec.Domain != domain {
		return nil, fmt.Errorf("task %s declares domain %q but lives under %q", spec.ID, spec.Domain, domain)
	}
	if spec.Instruction == "" {
		return nil, fmt.Errorf("task %s has no instruction", spec.ID)
	}

	if err := evaluator.Validate(spec.Checker); err != nil {
		return nil, fmt.Errorf("task %s: %w", spec.ID, err)
	}

	for i, step := range spec.Setup {
		switch step.Type {
		case "execute", "launch", "download", "sleep":
		default:
			return nil, fmt.Errorf("task %s: setup step %d has unknown type %q", spec.ID, i, step.Type)
		}
	}

	return &spec, nil
}
