package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher the
// controller reports through.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}, nil
}

// NewNopTelemetry returns a Telemetry that discards logs and records nothing.
// Workers and tests use it when no telemetry is configured.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)

	return &Telemetry{Logger: NewNopLogger(), Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown stops the event publisher, the tracer and the metrics server.
// Every component is stopped even when an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
	)
}

// StartMetricsServer serves /metrics when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries the span, logger and timer of one orchestrator
// operation. Span is nil when the operation was started without telemetry.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	tel       *Telemetry
	operation string
	entityID  string
}

// StartOperation starts an operation on the Telemetry stored in ctx. Without
// one it only logs and times.
func StartOperation(ctx context.Context, operation, entityID string, attrs ...attribute.KeyValue) *InstrumentedContext {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.StartOperation(ctx, operation, entityID, attrs...)
	}
	return &InstrumentedContext{
		Ctx:       ctx,
		Logger:    FromContext(ctx).WithOperation(operation),
		Timer:     NewTimer(),
		operation: operation,
		entityID:  entityID,
	}
}

// StartOperation opens the operation span and counts the operation as active.
func (t *Telemetry) StartOperation(ctx context.Context, operation, entityID string, attrs ...attribute.KeyValue) *InstrumentedContext {
	spanCtx, span := t.Tracer.StartOperationSpan(ctx, operation, entityID)
	span.SetAttributes(attrs...)

	logger := t.Logger.WithOperation(operation)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	t.Metrics.OperationStarted()

	return &InstrumentedContext{
		Ctx:       logger.WithContext(spanCtx),
		Span:      span,
		Logger:    logger,
		Timer:     NewTimer(),
		tel:       t,
		operation: operation,
		entityID:  entityID,
	}
}

// End closes the span, records the duration and publishes
// operation.completed or operation.failed.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		endSpan(ic.Span, err)
	}
	if ic.tel == nil {
		return
	}

	duration := ic.Timer.Duration()
	if err != nil {
		ic.tel.Metrics.RecordOperation(ic.operation, "error", duration)
		ic.tel.Metrics.RecordError(err)
		_ = ic.tel.Events.PublishOperationFailed(ic.operation, ic.entityID, err.Error())
		return
	}
	ic.tel.Metrics.RecordOperation(ic.operation, "success", duration)
	_ = ic.tel.Events.PublishOperationCompleted(ic.operation, ic.entityID, duration)
}
