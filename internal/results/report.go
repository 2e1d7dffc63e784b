package results

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spachava753/deskbench/internal/models"
)

// Aggregator collects task results as workers finish them and folds them
// into a SuiteReport. Results arrive in completion order; the report is
// deterministic regardless of that order.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	started time.Time
	results map[string][]models.TaskResult
}

// NewAggregator starts an empty aggregation for one suite run.
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		runID:   runID,
		started: time.Now(),
		results: map[string][]models.TaskResult{},
	}
}

// Add records one task result. Safe for concurrent use.
func (a *Aggregator) Add(result models.TaskResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[result.Domain] = append(a.results[result.Domain], result)
}

// Report folds everything collected so far into a SuiteReport. Results are
// sorted by task ID within each domain so re-running a suite with a
// different worker count produces an identical report.
func (a *Aggregator) Report(cancelled bool) *models.SuiteReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &models.SuiteReport{
		RunID:     a.runID,
		Cancelled: cancelled,
		Domains:   map[string]models.DomainSummary{},
		Results:   map[string][]models.TaskResult{},
		StartedAt: a.started,
		EndedAt:   time.Now(),
	}
	report.DurationSec = report.EndedAt.Sub(report.StartedAt).Seconds()

	var totalSteps int
	for domain, rs := range a.results {
		sorted := make([]models.TaskResult, len(rs))
		copy(sorted, rs)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].TaskID < sorted[j].TaskID
		})
		report.Results[domain] = sorted

		var summary models.DomainSummary
		var domainSteps int
		for _, r := range sorted {
			summary.Total++
			domainSteps += len(r.Steps)
			switch r.Status {
			case models.StatusSuccess:
				summary.Successes++
			case models.StatusFailure:
				summary.Failures++
			case models.StatusTimeout:
				summary.Timeouts++
			case models.StatusError:
				summary.Errors++
			}
		}
		if summary.Total > 0 {
			summary.PassRate = float64(summary.Successes) / float64(summary.Total)
			summary.MeanSteps = float64(domainSteps) / float64(summary.Total)
		}
		report.Domains[domain] = summary

		report.TotalTasks += summary.Total
		report.Successes += summary.Successes
		report.Failures += summary.Failures
		report.Timeouts += summary.Timeouts
		report.Errors += summary.Errors
		totalSteps += domainSteps
	}

	if report.TotalTasks > 0 {
		report.PassRate = float64(report.Successes) / float64(report.TotalTasks)
		report.MeanSteps = float64(totalSteps) / float64(report.TotalTasks)
	}
	return report
}

// Summary renders a human-readable digest of the report for stdout.
func Summary(report *models.SuiteReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s: %d tasks, %.1f%% pass rate",
		report.RunID, report.TotalTasks, report.PassRate*100)
	if report.Cancelled {
		b.WriteString(" (cancelled)")
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  success=%d failure=%d timeout=%d error=%d mean_steps=%.1f\n",
		report.Successes, report.Failures, report.Timeouts, report.Errors, report.MeanSteps)

	domains := make([]string, 0, len(report.Domains))
	for d := range report.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		s := report.Domains[d]
		fmt.Fprintf(&b, "  %-16s %d/%d passed (%.1f%%)\n",
			d, s.Successes, s.Total, s.PassRate*100)
	}
	return b.String()
}
