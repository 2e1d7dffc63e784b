package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spachava753/deskbench/internal/agent"
	"github.com/spachava753/deskbench/internal/config"
	"github.com/spachava753/deskbench/internal/control"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/metrics"
	"github.com/spachava753/deskbench/internal/models"
	"github.com/spachava753/deskbench/internal/results"
	"github.com/spachava753/deskbench/internal/scheduler"
)

// gauge tracks peak concurrency across fake instances.
type gauge struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *gauge) exit() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

type fakeInstance struct {
	busy  *gauge
	delay time.Duration
}

func (f *fakeInstance) Observe(ctx context.Context) (*models.Observation, error) {
	return &models.Observation{Screenshot: []byte("PNG"), CapturedAt: time.Now()}, nil
}

func (f *fakeInstance) Act(ctx context.Context, action models.Action) (*models.ActResult, error) {
	if f.busy != nil {
		f.busy.enter()
		defer f.busy.exit()
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return &models.ActResult{OK: true}, nil
}

func (f *fakeInstance) ApplySetup(ctx context.Context, steps []models.SetupStep) error {
	return nil
}

func (f *fakeInstance) Control() *control.Client {
	return nil
}

// fakeProvider materializes in-memory environments and counts lifecycle
// operations.
type fakeProvider struct {
	busy  *gauge
	delay time.Duration

	mu           sync.Mutex
	serial       int
	acquires     int
	releases     int
	resets       int
	addressed    int
	failAcquires int
	failResets   int
	wedgeHost    bool // reset failures also poison future acquires
	released     map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{released: map[string]bool{}}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) handle(id string, gen int) *environment.Handle {
	rec := models.EnvironmentHandle{
		ID:         id,
		Addr:       "localhost",
		Generation: gen,
		State:      models.StateReady,
	}
	return environment.NewHandle(rec, &fakeInstance{busy: p.busy, delay: p.delay})
}

func (p *fakeProvider) Acquire(ctx context.Context, cfg environment.AcquireConfig) (*environment.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.failAcquires > 0 {
		p.failAcquires--
		return nil, fmt.Errorf("hypervisor says no")
	}
	p.serial++
	return p.handle(fmt.Sprintf("env-%d", p.serial), 1), nil
}

func (p *fakeProvider) Release(ctx context.Context, h *environment.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	if h != nil {
		p.released[h.ID] = true
	}
	return nil
}

func (p *fakeProvider) Reset(ctx context.Context, h *environment.Handle, cfg environment.AcquireConfig) (*environment.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	if p.failResets > 0 {
		p.failResets--
		if p.wedgeHost {
			p.failAcquires = 100
		}
		return nil, fmt.Errorf("snapshot revert wedged")
	}
	return p.handle(h.ID, h.Generation+1), nil
}

func (p *fakeProvider) Address(h *environment.Handle) (string, int, error) {
	p.mu.Lock()
	p.addressed++
	p.mu.Unlock()
	return environment.AddressOf(h)
}

func suiteConfig(numEnvs int) models.SuiteConfig {
	return models.SuiteConfig{
		NumEnvs:             numEnvs,
		MaxSteps:            15,
		TaskTimeoutSec:      60,
		ProvisionRetries:    3,
		ProvisionTimeoutSec: 5,
	}
}

func makeTasks(n int) []models.TaskSpec {
	tasks := make([]models.TaskSpec, n)
	for i := range tasks {
		tasks[i] = models.TaskSpec{
			ID:          fmt.Sprintf("t%d", i+1),
			Domain:      "chrome",
			Instruction: "click things",
			Checker:     models.CheckerSpec{Type: "always_true"},
		}
	}
	return tasks
}

func scriptedFactory() agent.Factory {
	return func() (agent.Agent, error) {
		return agent.NewScripted([]models.Action{
			{Type: models.ActionCommand, Payload: "pyautogui.click(1, 1)"},
		}), nil
	}
}

func newScheduler(t *testing.T, provider environment.Provider, cfg models.SuiteConfig, factory agent.Factory) (*scheduler.Scheduler, *results.Store) {
	t.Helper()
	store, err := results.NewStore(t.TempDir(), "run-1")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return scheduler.New(provider, config.DefaultProfile(), cfg, factory, store, metrics.NewSet()), store
}

func TestRunSequential(t *testing.T) {
	provider := newFakeProvider()
	sched, _ := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	report, err := sched.Run(context.Background(), "run-1", makeTasks(3))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.TotalTasks != 3 || report.Successes != 3 {
		t.Fatalf("expected 3 successes, got %+v", report)
	}
	if provider.acquires != 1 {
		t.Errorf("expected 1 acquire, got %d", provider.acquires)
	}
	if provider.resets != 2 {
		t.Errorf("expected a reset before each task after the first, got %d", provider.resets)
	}
	if provider.releases != 1 {
		t.Errorf("expected 1 release at shutdown, got %d", provider.releases)
	}
	if provider.addressed != 1 {
		t.Errorf("expected the pool to report the machine's address once, got %d", provider.addressed)
	}

	// Each task ran on a fresh generation of the recycled machine.
	gens := map[int]bool{}
	for _, r := range report.Results["chrome"] {
		gens[r.Generation] = true
	}
	if len(gens) != 3 {
		t.Errorf("expected 3 distinct generations, got %v", gens)
	}
}

func TestRunPoolBound(t *testing.T) {
	provider := newFakeProvider()
	provider.busy = &gauge{}
	provider.delay = 20 * time.Millisecond
	sched, _ := newScheduler(t, provider, suiteConfig(2), scriptedFactory())

	report, err := sched.Run(context.Background(), "run-1", makeTasks(6))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Successes != 6 {
		t.Fatalf("expected 6 successes, got %+v", report)
	}
	if provider.busy.peak > 2 {
		t.Errorf("pool bound violated: %d environments busy at once", provider.busy.peak)
	}
	if provider.acquires != 2 {
		t.Errorf("expected 2 acquires, got %d", provider.acquires)
	}
}

func TestRunPoolNotLargerThanQueue(t *testing.T) {
	provider := newFakeProvider()
	sched, _ := newScheduler(t, provider, suiteConfig(8), scriptedFactory())

	if _, err := sched.Run(context.Background(), "run-1", makeTasks(2)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if provider.acquires > 2 {
		t.Errorf("provisioned %d environments for 2 tasks", provider.acquires)
	}
}

func TestRunReplacesWedgedEnvironment(t *testing.T) {
	provider := newFakeProvider()
	provider.failResets = 2 // both reset attempts after the first task fail
	sched, _ := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	report, err := sched.Run(context.Background(), "run-1", makeTasks(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Successes != 2 {
		t.Fatalf("expected both tasks to succeed, got %+v", report)
	}
	if provider.acquires != 2 {
		t.Errorf("expected a replacement acquire, got %d acquires", provider.acquires)
	}
	if !provider.released["env-1"] {
		t.Error("wedged environment was never released")
	}
}

func TestRunSurvivesFlakyProvisioning(t *testing.T) {
	provider := newFakeProvider()
	provider.failAcquires = 2 // first two attempts fail, third succeeds
	sched, _ := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	report, err := sched.Run(context.Background(), "run-1", makeTasks(1))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Successes != 1 {
		t.Errorf("expected success after retries, got %+v", report)
	}
	if provider.acquires != 3 {
		t.Errorf("expected 3 acquire attempts, got %d", provider.acquires)
	}
}

func TestRunFailsWhenPoolCannotProvision(t *testing.T) {
	provider := newFakeProvider()
	provider.failAcquires = 100
	sched, _ := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	if _, err := sched.Run(context.Background(), "run-1", makeTasks(1)); err == nil {
		t.Error("expected error when no environment can be provisioned, got nil")
	}
}

func TestRunRecordsTaskLostToRecycle(t *testing.T) {
	provider := newFakeProvider()
	provider.failResets = 2
	provider.wedgeHost = true // the replacement acquire fails too
	sched, _ := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	report, err := sched.Run(context.Background(), "run-1", makeTasks(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Successes != 1 || report.Errors != 1 {
		t.Fatalf("expected 1 success and 1 error, got %+v", report)
	}
	for _, r := range report.Results["chrome"] {
		if r.TaskID != "t2" {
			continue
		}
		if r.Status != models.StatusError || r.Error == nil || r.Error.Type != models.ErrResetFailed {
			t.Errorf("expected t2 recorded as reset_failed, got %+v", r)
		}
	}
}

// blockingAgent parks in Predict until the context dies, signalling once it
// has started.
type blockingAgent struct {
	started chan<- struct{}
}

func (b *blockingAgent) Reset() {}

func (b *blockingAgent) Predict(ctx context.Context, goal string, obs *models.Observation) (models.Action, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return models.Action{}, ctx.Err()
}

func TestRunCancellation(t *testing.T) {
	provider := newFakeProvider()
	started := make(chan struct{}, 2)
	factory := agent.Factory(func() (agent.Agent, error) {
		return &blockingAgent{started: started}, nil
	})
	sched, _ := newScheduler(t, provider, suiteConfig(2), factory)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Wait until both workers are mid-task, then pull the plug.
		<-started
		<-started
		cancel()
	}()

	report, err := sched.Run(ctx, "run-1", makeTasks(4))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Cancelled {
		t.Error("expected report marked cancelled")
	}
	if report.Errors != 2 {
		t.Errorf("expected 2 in-flight tasks recorded as errors, got %d", report.Errors)
	}
	if report.TotalTasks != 2 {
		t.Errorf("queued tasks must stay unrun, got %d recorded", report.TotalTasks)
	}
	for _, r := range report.Results["chrome"] {
		if r.Status != models.StatusError {
			t.Errorf("task %s: expected error status, got %s", r.TaskID, r.Status)
		}
		if r.Error == nil || r.Error.Type != models.ErrCancelled {
			t.Errorf("task %s: expected cancelled error detail, got %+v", r.TaskID, r.Error)
		}
	}

	// Every provisioned environment must be torn down on the way out.
	if provider.releases != provider.acquires {
		t.Errorf("leaked environments: %d acquired, %d released", provider.acquires, provider.releases)
	}
}

func TestRunSkipsCompletedTasks(t *testing.T) {
	provider := newFakeProvider()
	sched, store := newScheduler(t, provider, suiteConfig(1), scriptedFactory())

	// A finished result from an interrupted earlier run of the same ID.
	prior := models.TaskResult{
		TaskID: "t1",
		Domain: "chrome",
		Status: models.StatusSuccess,
		Score:  1,
	}
	if err := store.SaveResult(prior); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	report, err := sched.Run(context.Background(), "run-1", makeTasks(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.TotalTasks != 2 || report.Successes != 2 {
		t.Fatalf("expected both tasks in report, got %+v", report)
	}
	// Only t2 actually ran, on a fresh machine.
	if provider.acquires != 1 {
		t.Errorf("expected 1 acquire, got %d", provider.acquires)
	}
	if provider.resets != 0 {
		t.Errorf("expected no resets for a single task, got %d", provider.resets)
	}
}
