package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/spachava753/deskbench/internal/agent"
	"github.com/spachava753/deskbench/internal/catalog"
	"github.com/spachava753/deskbench/internal/config"
	"github.com/spachava753/deskbench/internal/environment"
	"github.com/spachava753/deskbench/internal/environment/docker"
	"github.com/spachava753/deskbench/internal/environment/vmware"
	"github.com/spachava753/deskbench/internal/metrics"
	"github.com/spachava753/deskbench/internal/models"
	"github.com/spachava753/deskbench/internal/results"
	"github.com/spachava753/deskbench/internal/scheduler"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: deskbench <suite.yaml> [run-id]")
		os.Exit(1)
	}
	configPath := os.Args[1]

	// Resuming an interrupted run reuses its ID so completed tasks are
	// skipped.
	runID := uuid.NewString()
	if len(os.Args) > 2 {
		runID = os.Args[2]
	}

	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	report, err := run(ctx, configPath, runID)
	if err != nil {
		slog.Error("suite failed", "error", err)
		os.Exit(1)
	}

	fmt.Print("\n" + results.Summary(report))

	if report.Errors > 0 || report.Cancelled {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, runID string) (*models.SuiteReport, error) {
	// Best effort; the suite works without a .env file.
	godotenv.Load()

	cfg, err := config.LoadSuiteConfig(configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	profile, err := profiles.Get(cfg.Profile)
	if err != nil {
		return nil, err
	}

	var cat *models.Catalog
	if cfg.CatalogGitURL != "" {
		cat, err = catalog.FetchAndLoad(ctx, cfg.CatalogGitURL)
	} else {
		cat, err = catalog.Load(cfg.CatalogPath)
	}
	if err != nil {
		return nil, err
	}
	tasks := cat.Filter(cfg.Domain, cfg.MaxTasks)
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks selected (domain=%q max_tasks=%d)", cfg.Domain, cfg.MaxTasks)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	factory, err := agent.NewFactory(cfg.Agent)
	if err != nil {
		return nil, err
	}

	store, err := results.NewStore(cfg.ResultDir, runID)
	if err != nil {
		return nil, err
	}

	set := metrics.NewSet()
	set.Serve(ctx, cfg.MetricsAddr)

	slog.Info("suite starting",
		"run_id", runID,
		"backend", provider.Name(),
		"tasks", len(tasks),
		"num_envs", cfg.NumEnvs,
		"agent", cfg.Agent.Kind)

	sched := scheduler.New(provider, profile, cfg, factory, store, set)
	return sched.Run(ctx, runID, tasks)
}

func buildProvider(cfg models.SuiteConfig) (environment.Provider, error) {
	switch cfg.Backend {
	case "docker":
		return docker.NewProvider()
	case "vmware":
		return vmware.NewProvider("")
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
