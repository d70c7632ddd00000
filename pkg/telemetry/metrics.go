package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/octane-lb/octane/pkg/engine"
)

// Metrics holds the controller's Prometheus collectors. With metrics
// disabled every collector is nil and the Record methods do nothing.
type Metrics struct {
	config MetricsConfig

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  prometheus.Gauge

	flowRuns    *prometheus.CounterVec
	taskReverts *prometheus.CounterVec

	convergenceExhausted  *prometheus.CounterVec
	failoverCompensations *prometheus.CounterVec

	queueJobs     *prometheus.CounterVec
	spareAmphorae *prometheus.GaugeVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		operations: counter("operations_total", "Orchestrator operations by result", "operation", "result"),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of orchestrator operations in seconds",
			Buckets:   buckets,
		}, []string{"operation"}),
		activeOperations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_operations",
			Help:      "Orchestrator operations in progress",
		}),

		flowRuns:    counter("flow_runs_total", "Flow runs by outcome", "flow", "status"),
		taskReverts: counter("task_reverts_total", "Reverted tasks", "flow"),

		convergenceExhausted:  counter("convergence_exhaustions_total", "Waits for PENDING_UPDATE that ran out of attempts", "entity"),
		failoverCompensations: counter("failover_compensations_total", "ERROR writes after a failed failover", "result"),

		queueJobs: counter("queue_jobs_total", "Queued jobs handled by result", "operation", "result"),
		spareAmphorae: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "spare_amphorae",
			Help:      "Ready spare amphorae",
		}, []string{"availability_zone"}),

		errorsByClass: counter("errors_by_class_total", "Failed operations by error class", "class"),
		errorsByCode:  counter("errors_by_code_total", "Failed operations by error code", "code"),
	}

	m.registry.MustRegister(
		m.operations, m.operationDuration, m.activeOperations,
		m.flowRuns, m.taskReverts,
		m.convergenceExhausted, m.failoverCompensations,
		m.queueJobs, m.spareAmphorae,
		m.errorsByClass, m.errorsByCode,
	)
	return m, nil
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// OperationStarted marks an operation as in progress.
func (m *Metrics) OperationStarted() {
	if m.enabled() {
		m.activeOperations.Inc()
	}
}

// RecordOperation records a finished operation.
func (m *Metrics) RecordOperation(operation, result string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordFlowRun records the outcome of a flow run.
func (m *Metrics) RecordFlowRun(flow, status string) {
	if m.enabled() {
		m.flowRuns.WithLabelValues(flow, status).Inc()
	}
}

// RecordTaskRevert records one reverted task.
func (m *Metrics) RecordTaskRevert(flow string) {
	if m.enabled() {
		m.taskReverts.WithLabelValues(flow).Inc()
	}
}

// RecordConvergenceExhausted records a wait for an entity state that never
// arrived.
func (m *Metrics) RecordConvergenceExhausted(entity string) {
	if m.enabled() {
		m.convergenceExhausted.WithLabelValues(entity).Inc()
	}
}

// RecordFailoverCompensation records an ERROR write after a failed failover.
// result is "ok" or "failed".
func (m *Metrics) RecordFailoverCompensation(result string) {
	if m.enabled() {
		m.failoverCompensations.WithLabelValues(result).Inc()
	}
}

// RecordQueueJob records a job taken from the work queue.
func (m *Metrics) RecordQueueJob(operation, result string) {
	if m.enabled() {
		m.queueJobs.WithLabelValues(operation, result).Inc()
	}
}

// SetSpareAmphorae sets the ready spare count for an availability zone.
func (m *Metrics) SetSpareAmphorae(zone string, count int) {
	if m.enabled() {
		m.spareAmphorae.WithLabelValues(zone).Set(float64(count))
	}
}

// RecordError counts a failed operation by the class and code of its
// engine error. Errors without one count as "unclassified".
func (m *Metrics) RecordError(err error) {
	if !m.enabled() || err == nil {
		return
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		m.errorsByClass.WithLabelValues("unclassified").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(ee.Class)).Inc()
	if ee.Code != "" {
		m.errorsByCode.WithLabelValues(ee.Code).Inc()
	}
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures an operation from its creation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// StartMetricsServer serves the registry on ListenAddress at Path. Serve
// errors are logged, not returned.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()
	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
