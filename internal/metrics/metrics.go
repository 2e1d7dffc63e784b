// Package metrics exposes suite progress over Prometheus. Everything is
// registered on a private registry so tests can construct throwaway sets.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spachava753/deskbench/internal/models"
)

// Set holds the suite's metric instruments.
type Set struct {
	registry *prometheus.Registry

	BusyEnvs    prometheus.Gauge
	PoolSize    prometheus.Gauge
	TaskResults *prometheus.CounterVec
	Steps       prometheus.Counter
	Resets      *prometheus.CounterVec
}

// NewSet creates and registers the suite's instruments.
func NewSet() *Set {
	registry := prometheus.NewRegistry()

	s := &Set{
		registry: registry,
		BusyEnvs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskbench_busy_environments",
			Help: "Environments currently running a task.",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskbench_pool_size",
			Help: "Environments currently alive in the pool.",
		}),
		TaskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbench_task_results_total",
			Help: "Completed task runs by terminal status.",
		}, []string{"status"}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskbench_steps_total",
			Help: "Agent steps executed across all tasks.",
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbench_resets_total",
			Help: "Environment resets by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(s.BusyEnvs, s.PoolSize, s.TaskResults, s.Steps, s.Resets)
	return s
}

// ObserveResult records one finished task run.
func (s *Set) ObserveResult(result models.TaskResult) {
	s.TaskResults.WithLabelValues(string(result.Status)).Inc()
	s.Steps.Add(float64(len(result.Steps)))
}

// Serve exposes /metrics on addr until ctx is cancelled. A no-op when addr
// is empty.
func (s *Set) Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
