package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the build collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_task_runs_total",
				Help: "Total number of finished task runs",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiln_task_duration_seconds",
				Help:    "Duration of task runs",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"task"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiln_stage_duration_seconds",
				Help:    "Duration of pipeline stages",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"pipeline", "stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_stage_failures_total",
				Help: "Total number of failed pipeline stages",
			},
			[]string{"pipeline", "stage"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_cache_lookups_total",
				Help: "Build cache lookups by result",
			},
			[]string{"stage", "result"},
		),
	}
	m.registry.MustRegister(
		m.taskRuns, m.taskDuration, m.stageDuration, m.stageFailures, m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks records lifecycle events as metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTaskFinish: func(_ context.Context, e *domain.TaskEvent) {
			m.taskRuns.WithLabelValues(e.Task, string(e.Status)).Inc()
			m.taskDuration.WithLabelValues(e.Task).Observe(e.Duration.Seconds())
		},
		OnStageFinish: func(_ context.Context, e *domain.StageEvent) {
			m.stageDuration.WithLabelValues(e.Pipeline, e.Stage).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.stageFailures.WithLabelValues(e.Pipeline, e.Stage).Inc()
			}
		},
		OnCacheLookup: func(_ context.Context, e *domain.CacheEvent) {
			result := "miss"
			if e.Hit {
				result = "hit"
			}
			m.cacheLookups.WithLabelValues(e.Stage, result).Inc()
		},
	}
}

// LogHooks writes lifecycle events to logger at debug level; failures are
// logged at error level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTaskStart: func(ctx context.Context, e *domain.TaskEvent) {
			logger.DebugContext(ctx, "task_start", "task", e.Task, "kind", e.Kind)
		},
		OnTaskFinish: func(ctx context.Context, e *domain.TaskEvent) {
			if e.Err != nil {
				logger.ErrorContext(ctx, "task_failed", "task", e.Task, "duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "task_finish", "task", e.Task, "duration", e.Duration)
		},
		OnStageFinish: func(ctx context.Context, e *domain.StageEvent) {
			logger.DebugContext(ctx, "stage_finish", "pipeline", e.Pipeline, "stage", e.Stage,
				"records", e.Records, "duration", e.Duration)
		},
		OnCacheLookup: func(ctx context.Context, e *domain.CacheEvent) {
			logger.DebugContext(ctx, "cache_lookup", "stage", e.Stage, "path", e.Path, "hit", e.Hit)
		},
	}
}
