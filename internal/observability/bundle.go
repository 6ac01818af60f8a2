package observability

import "context"

// BundleConfig configures NewBundle. It is deliberately narrower than
// TraceConfig/LogConfig/MetricsConfig individually — internal/runtime
// translates rtconfig.ObservabilityConfig into this shape rather than
// observability importing rtconfig directly, keeping this package
// independent of the config loader.
type BundleConfig struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	LogLevel        string
	LogFormat       string
	MetricsEnabled  bool
	TracingEnabled  bool
	TracingEndpoint string
}

// Bundle groups the structured logger, Prometheus metrics, OpenTelemetry
// tracer, and event timeline recorder a runtime process wires up once at
// startup and threads through every collaborator that accepts a
// *slog.Logger, a *Metrics, or an EventSink.
type Bundle struct {
	Logger  *Logger
	Metrics *Metrics
	Tracer  *Tracer
	Events  *EventRecorder

	shutdownTracer func(context.Context) error
}

// NewBundle wires a Bundle from cfg. Metrics and tracing are each only
// constructed if enabled; an unused *Metrics/*Tracer stays nil rather than
// a no-op stand-in, so callers must nil-check before use (every consumer
// in this codebase already does, since EventSink/metrics hooks are
// optional).
func NewBundle(cfg BundleConfig) *Bundle {
	logger := NewLogger(LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	var metrics *Metrics
	if cfg.MetricsEnabled {
		metrics = NewMetrics()
	}

	var tracer *Tracer
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.TracingEnabled && cfg.TracingEndpoint != "" {
		tracer, shutdownTracer = NewTracer(TraceConfig{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			Environment:    cfg.Environment,
			Endpoint:       cfg.TracingEndpoint,
			SamplingRate:   1.0,
		})
	}

	events := NewEventRecorder(NewMemoryEventStore(1000), logger)

	return &Bundle{
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		Events:         events,
		shutdownTracer: shutdownTracer,
	}
}

// Shutdown flushes the tracer's exporter, if tracing was enabled.
func (b *Bundle) Shutdown(ctx context.Context) error {
	return b.shutdownTracer(ctx)
}
