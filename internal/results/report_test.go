package results_test

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/spachava753/deskbench/internal/models"
	"github.com/spachava753/deskbench/internal/results"
)

func sampleResults() []models.TaskResult {
	return []models.TaskResult{
		{TaskID: "c1", Domain: "chrome", Status: models.StatusSuccess, Score: 1,
			Steps: make([]models.StepRecord, 4)},
		{TaskID: "c2", Domain: "chrome", Status: models.StatusFailure, Score: 0,
			Steps: make([]models.StepRecord, 8)},
		{TaskID: "c3", Domain: "chrome", Status: models.StatusTimeout, Score: 0,
			Steps: make([]models.StepRecord, 15)},
		{TaskID: "g1", Domain: "gimp", Status: models.StatusSuccess, Score: 1,
			Steps: make([]models.StepRecord, 6)},
		{TaskID: "g2", Domain: "gimp", Status: models.StatusError,
			Error: &models.ErrorDetail{Type: models.ErrSetupFailure, Message: "boom"}},
	}
}

func TestReportAggregation(t *testing.T) {
	agg := results.NewAggregator("run-1")
	for _, r := range sampleResults() {
		agg.Add(r)
	}

	report := agg.Report(false)

	if report.TotalTasks != 5 {
		t.Errorf("expected 5 tasks, got %d", report.TotalTasks)
	}
	if report.Successes != 2 || report.Failures != 1 || report.Timeouts != 1 || report.Errors != 1 {
		t.Errorf("status counts wrong: %+v", report)
	}
	if report.PassRate != 0.4 {
		t.Errorf("expected pass rate 0.4, got %f", report.PassRate)
	}

	chrome := report.Domains["chrome"]
	if chrome.Total != 3 || chrome.Successes != 1 {
		t.Errorf("chrome summary wrong: %+v", chrome)
	}
	if chrome.MeanSteps != 9 {
		t.Errorf("expected chrome mean steps 9, got %f", chrome.MeanSteps)
	}

	gimp := report.Domains["gimp"]
	if gimp.Total != 2 || gimp.Errors != 1 {
		t.Errorf("gimp summary wrong: %+v", gimp)
	}
}

func TestReportOrderIndependence(t *testing.T) {
	sample := sampleResults()

	baseline := results.NewAggregator("run-1")
	for _, r := range sample {
		baseline.Add(r)
	}
	want := baseline.Report(false)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]models.TaskResult, len(sample))
		copy(shuffled, sample)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		agg := results.NewAggregator("run-1")
		for _, r := range shuffled {
			agg.Add(r)
		}
		got := agg.Report(false)

		if !reflect.DeepEqual(got.Domains, want.Domains) {
			t.Errorf("trial %d: domain summaries differ", trial)
		}
		if !reflect.DeepEqual(got.Results, want.Results) {
			t.Errorf("trial %d: result ordering differs", trial)
		}
		if got.PassRate != want.PassRate {
			t.Errorf("trial %d: pass rate differs", trial)
		}
	}
}

func TestReportEmpty(t *testing.T) {
	report := results.NewAggregator("run-1").Report(true)

	if report.TotalTasks != 0 {
		t.Errorf("expected 0 tasks, got %d", report.TotalTasks)
	}
	if report.PassRate != 0 {
		t.Errorf("expected pass rate 0, got %f", report.PassRate)
	}
	if !report.Cancelled {
		t.Error("expected cancelled flag set")
	}
}

func TestSummary(t *testing.T) {
	agg := results.NewAggregator("run-1")
	for _, r := range sampleResults() {
		agg.Add(r)
	}

	out := results.Summary(agg.Report(false))

	for _, want := range []string{"run-1", "5 tasks", "40.0% pass rate", "chrome", "gimp"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
