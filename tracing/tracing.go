// Package tracing sets up the OpenTelemetry tracer provider. Finished spans
// are written to the structured log; there is no remote exporter.
package tracing

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// InstrumentationName names the tracer used throughout OBuoy
const InstrumentationName = "obuoy"

// Provider wraps the tracer provider and its shutdown
type Provider struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// NewProvider creates a provider sampling sampleRatio of root traces.
// When enabled is false every tracer is a no-op.
func NewProvider(enabled bool, sampleRatio float64, logger *zap.SugaredLogger) *Provider {
	if !enabled {
		return &Provider{
			provider: noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithSpanProcessor(NewLogProcessor(logger)),
	)
	logger.Infow("Tracing enabled", "sample_ratio", sampleRatio)

	return &Provider{provider: tp, shutdown: tp.Shutdown}
}

// Tracer returns the application tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.provider.Tracer(InstrumentationName)
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// LogProcessor logs every finished span at debug level
type LogProcessor struct {
	logger *zap.SugaredLogger
}

var _ sdktrace.SpanProcessor = (*LogProcessor)(nil)

// NewLogProcessor creates a span processor writing to logger
func NewLogProcessor(logger *zap.SugaredLogger) *LogProcessor {
	return &LogProcessor{logger: logger}
}

// OnStart is a no-op
func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs the span
func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []interface{}{
		"span", s.Name(),
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration", s.EndTime().Sub(s.StartTime()).String(),
		"status", s.Status().Code.String(),
	}
	if s.Parent().IsValid() {
		fields = append(fields, "parent_span_id", s.Parent().SpanID().String())
	}
	for _, attr := range s.Attributes() {
		fields = append(fields, string(attr.Key), attr.Value.Emit())
	}
	if desc := s.Status().Description; desc != "" {
		fields = append(fields, "error", desc)
	}
	p.logger.Debugw("span_finished", fields...)
}

// Shutdown is a no-op
func (p *LogProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }
