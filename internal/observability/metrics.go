package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/yungbote/layered-backend/internal/domain/jobs"
	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const namespace = "layered"

// Metrics is a nil-safe facade over the process Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	aggregateOps      *prometheus.HistogramVec
	aggregateConflict *prometheus.CounterVec
	aggregateRetry    *prometheus.CounterVec

	stepAttempts *prometheus.HistogramVec
	stepReplays  *prometheus.CounterVec
	jobOutcomes  *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec

	upstreamRequests *prometheus.HistogramVec
	staleProjects    prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics once. It returns nil when METRICS_ENABLED is false.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		instance = New(reg)
		if log != nil {
			log.Info("metrics initialized", "namespace", namespace)
		}
	})
	return instance
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help:    "API request latency by method and route.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "api", Name: "inflight_requests",
			Help: "In-flight API requests.",
		}),
		aggregateOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "aggregate", Name: "operation_duration_seconds",
			Help:    "Aggregate write latency by operation and outcome code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		aggregateConflict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregate", Name: "conflicts_total",
			Help: "Aggregate writes rejected with a conflict.",
		}, []string{"operation"}),
		aggregateRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregate", Name: "retryable_total",
			Help: "Aggregate writes that failed with a retryable error.",
		}, []string{"operation"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "step_attempt_duration_seconds",
			Help:    "Workflow step attempt latency by step and outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"step", "outcome"}),
		stepReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "step_replays_total",
			Help: "Steps answered from a stored checkpoint.",
		}, []string{"step"}),
		jobOutcomes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "job_duration_seconds",
			Help:    "Job execution time by job type and final status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job_type", "status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "job_queue_depth",
			Help: "job_run rows by status.",
		}, []string{"status"}),
		upstreamRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "request_duration_seconds",
			Help:    "Outbound request latency by upstream, operation and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"upstream", "operation", "status"}),
		staleProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "projects", Name: "stale_processing",
			Help: "Projects stuck in processing past the stale threshold at the last report.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.aggregateOps, m.aggregateConflict, m.aggregateRetry,
		m.stepAttempts, m.stepReplays, m.jobOutcomes, m.queueDepth,
		m.upstreamRequests, m.staleProjects,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAggregateOperation(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateOps.WithLabelValues(operation, status).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(operation string) {
	if m == nil {
		return
	}
	m.aggregateConflict.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncAggregateRetry(operation string) {
	if m == nil {
		return
	}
	m.aggregateRetry.WithLabelValues(operation).Inc()
}

// ObserveStepAttempt records one execution of a step function.
// outcome is one of success, retry or terminal.
func (m *Metrics) ObserveStepAttempt(step, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stepAttempts.WithLabelValues(step, outcome).Observe(dur.Seconds())
}

func (m *Metrics) IncStepReplay(step string) {
	if m == nil {
		return
	}
	m.stepReplays.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(jobType, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveUpstream(upstream, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(upstream, operation, status).Observe(dur.Seconds())
}

func (m *Metrics) SetStaleProjects(n int) {
	if m == nil {
		return
	}
	m.staleProjects.Set(float64(n))
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

// StartJobQueueCollector samples job_run counts per status until ctx is done.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&jobs.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, s := range statuses {
					m.queueDepth.WithLabelValues(s).Set(0)
				}
				for _, row := range rows {
					status := strings.TrimSpace(row.Status)
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.WithLabelValues(status).Set(float64(row.Count))
				}
			}
		}
	}()
}
