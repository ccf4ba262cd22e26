package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry is the logger, tracer, metrics and event publisher shared by
// the connection manager, the store and the sync coordinator.
type Telemetry struct {
	Logger  zerolog.Logger
	Metrics *Metrics
	Events  *Publisher

	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds telemetry from cfg. The metrics endpoint is not started.
func New(cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(cfg.Trace, cfg.Service, cfg.Version)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  newLogger(cfg.Log, cfg.Service, cfg.Version),
		Metrics: newMetrics(cfg.Metrics),
		Events:  newPublisher(cfg.Events),
		tp:      tp,
		tracer:  tp.Tracer(cfg.Service),
	}, nil
}

// NewNop returns telemetry that logs, records and publishes nothing.
func NewNop() *Telemetry {
	return &Telemetry{
		Logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
}

// OrNop returns t, or a no-op instance when t is nil.
func OrNop(t *Telemetry) *Telemetry {
	if t == nil {
		return NewNop()
	}
	return t
}

// StartMetricsServer serves /metrics when metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.Serve()
}

// Shutdown drains events, flushes spans and stops the metrics endpoint.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	errs = append(errs, t.Events.Close(ctx))
	if t.tp != nil {
		errs = append(errs, t.tp.Shutdown(ctx))
	}
	errs = append(errs, t.Metrics.Stop(ctx))
	return errors.Join(errs...)
}

// Operation is one traced, timed unit of work.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger zerolog.Logger

	started time.Time
}

// StartOperation opens a span named name and a logger tagged with it.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	lc := t.Logger.With().Str("operation", name)
	if sc := span.SpanContext(); sc.IsValid() {
		lc = lc.Str("trace_id", sc.TraceID().String())
	}

	return &Operation{
		Ctx:     ctx,
		Span:    span,
		Logger:  lc.Logger(),
		started: time.Now(),
	}
}

// Elapsed is the time since the operation started.
func (o *Operation) Elapsed() time.Duration {
	return time.Since(o.started)
}

// End closes the span with err's status.
func (o *Operation) End(err error) {
	endSpan(o.Span, err)
}
