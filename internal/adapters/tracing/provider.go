package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/sagaflow/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingProvider owns the SDK tracer provider. When tracing is disabled it
// hands out noop tracers.
type TracingProvider struct {
	mu      sync.Mutex
	config  domain.TracingConfig
	logger  *slog.Logger
	sdk     *sdktrace.TracerProvider
	tracers map[string]trace.Tracer
}

// NewTracingProvider builds the provider. Spans are exported over OTLP/gRPC
// when config.Endpoint is set; extra options such as a span processor are
// appended after the defaults.
func NewTracingProvider(ctx context.Context, config domain.TracingConfig, logger *slog.Logger, opts ...sdktrace.TracerProviderOption) (*TracingProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tp := &TracingProvider{
		config:  config,
		logger:  logger.With("component", "tracing"),
		tracers: make(map[string]trace.Tracer),
	}
	if !config.Enabled {
		return tp, nil
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = "sagaflow"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("telemetry.sdk.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
		sdktrace.WithResource(res),
	}

	if config.Endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
		if config.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		base = append(base, sdktrace.WithBatcher(exporter))
	}

	tp.sdk = sdktrace.NewTracerProvider(append(base, opts...)...)
	tp.logger.Info("tracing enabled",
		"service", serviceName,
		"endpoint", config.Endpoint,
		"sampling_rate", config.SamplingRate,
	)
	return tp, nil
}

func (tp *TracingProvider) GetTracer(name string) trace.Tracer {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tracer, exists := tp.tracers[name]; exists {
		return tracer
	}

	var tracer trace.Tracer
	if tp.sdk == nil {
		tracer = noop.NewTracerProvider().Tracer(name)
	} else {
		tracer = tp.sdk.Tracer(name)
	}
	tp.tracers[name] = tracer
	return tracer
}

func (tp *TracingProvider) Enabled() bool {
	return tp.sdk != nil
}

func (tp *TracingProvider) ForceFlush(ctx context.Context) error {
	if tp.sdk == nil {
		return nil
	}
	return tp.sdk.ForceFlush(ctx)
}

func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	tp.tracers = make(map[string]trace.Tracer)
	tp.mu.Unlock()

	if tp.sdk == nil {
		return nil
	}
	tp.logger.Info("shutting down tracing provider")
	return tp.sdk.Shutdown(ctx)
}
