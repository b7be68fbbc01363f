// Package telemetry sets up OpenTelemetry trace and metric export over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/config"
)

// Provider owns the SDK tracer and meter providers
type Provider struct {
	config         config.TelemetryConfig
	logger         *zap.Logger
	resource       *resource.Resource
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
	shutdown     []func(context.Context) error
}

// Option configures a Provider
type Option func(*Provider)

// WithSpanExporter replaces the OTLP span exporter
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(p *Provider) {
		p.spanExporter = exp
	}
}

// WithMetricReader replaces the periodic OTLP metric reader
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(p *Provider) {
		p.metricReader = r
	}
}

// NewProvider builds the SDK providers and installs them as the otel
// globals. A disabled config yields a provider that hands out the current
// globals and exports nothing.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, serviceVersion string, logger *zap.Logger, opts ...Option) (*Provider, error) {
	p := &Provider{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if !cfg.Enabled {
		return p, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		logger.Warn("Partial telemetry resource", zap.Error(err))
	} else if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	p.resource = res

	if err := p.initTracerProvider(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize trace provider: %w", err)
	}
	if err := p.initMeterProvider(ctx); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metric provider: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Telemetry export enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.ServiceName),
		zap.Float64("sampling_rate", cfg.SamplingRate),
	)
	return p, nil
}

func (p *Provider) initTracerProvider(ctx context.Context) error {
	exporter := p.spanExporter
	if exporter == nil {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(p.config.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(p.resource),
		sdktrace.WithSampler(newSampler(p.config.SamplingRate)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	p.shutdown = append(p.shutdown, p.tracerProvider.Shutdown)
	return nil
}

func (p *Provider) initMeterProvider(ctx context.Context) error {
	reader := p.metricReader
	if reader == nil {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(p.config.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(p.config.MetricInterval))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(p.resource),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.shutdown = append(p.shutdown, p.meterProvider.Shutdown)
	return nil
}

// TracerProvider returns the SDK provider, or the global one when disabled
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the SDK provider, or the global one when disabled
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return p.meterProvider
}

// Shutdown flushes and stops every provider, newest first
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
