package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingConfig configures span export over OTLP/HTTP.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Endpoint is the OTLP HTTP endpoint, e.g. "localhost:4318".
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate"`
}

// DefaultTracingConfig returns tracing disabled with local collector defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Endpoint:    "localhost:4318",
		ServiceName: TracerName,
		Insecure:    true,
		SampleRate:  1.0,
	}
}

// Provider owns an SDK tracer provider installed as the global provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider exports spans to cfg.Endpoint and installs the provider and a
// trace-context propagator globally.
func NewProvider(ctx context.Context, cfg TracingConfig, version string) (*Provider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create OTLP exporter: %w", err)
	}
	return newProvider(ctx, cfg, version, sdktrace.WithBatcher(exporter))
}

func newProvider(ctx context.Context, cfg TracingConfig, version string, export sdktrace.TracerProviderOption) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = TracerName
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceNameKey.String(name))}
	if version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersionKey.String(version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res), sdktrace.WithSampler(samplerFor(cfg.SampleRate)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// samplerFor maps a sample rate to a sampler: 0 drops every span, 1 or more
// keeps every span.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns a host Tracer backed by this provider.
func (p *Provider) Tracer() *Tracer {
	return NewTracer(p.tp.Tracer(TracerName))
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
