package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/terraconstructs/gatehouse/internal/config"
)

// InitTracing installs a global tracer provider identifying the service.
// Ended spans are handed to processors and, when cfg names an OTLP
// endpoint, batched to that collector. With neither, spans are still
// created so trace context propagates to downstream calls. The returned
// function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg config.ObservabilityConfig, processors ...sdktrace.SpanProcessor) (func(context.Context) error, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

// newResource merges the service identity into the SDK defaults. The
// attributes are schemaless so the merge never conflicts with the schema
// URL resource.Default carries.
func newResource(cfg config.ObservabilityConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
}

// newExporter creates the OTLP HTTP exporter. It does not dial until the
// first batch is sent.
func newExporter(ctx context.Context, cfg config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch cfg.OTLPProtocol {
	case "", config.OTLPProtocolHTTP:
	case "grpc":
		return nil, fmt.Errorf("gRPC protocol not implemented yet, use %s", config.OTLPProtocolHTTP)
	default:
		return nil, fmt.Errorf("unknown OTLP protocol %q", cfg.OTLPProtocol)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// LogSpanProcessor writes every ended span to a zap logger at debug level.
// It stands in for an exporter during local development.
type LogSpanProcessor struct {
	logger *zap.Logger
}

var _ sdktrace.SpanProcessor = (*LogSpanProcessor)(nil)

func NewLogSpanProcessor(logger *zap.Logger) *LogSpanProcessor {
	return &LogSpanProcessor{logger: logger}
}

func (p *LogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.String("span_id", s.SpanContext().SpanID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
		zap.String("status", s.Status().Code.String()),
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
	}
	p.logger.Debug("span "+s.Name(), fields...)
}

func (p *LogSpanProcessor) Shutdown(context.Context) error { return nil }
func (p *LogSpanProcessor) ForceFlush(context.Context) error { return nil }
