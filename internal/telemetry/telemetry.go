// Package telemetry wires OpenTelemetry tracing and structured operational
// events into the aggregation service itself. Traces cover the service's own
// work (ingestion, aggregation, optimization runs), not the browser-side
// measurements it collects.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config controls service-side tracing.
type Config struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	Exporter ExporterConfig `yaml:"exporter"`
	Sampling SamplingConfig `yaml:"sampling"`
}

// ExporterConfig selects where spans go.
type ExporterConfig struct {
	Type     string            `yaml:"type"` // "stdout" or "otlp"
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// SamplingConfig sets the trace sampling ratio, 0.0 to 1.0.
type SamplingConfig struct {
	Rate float64 `yaml:"rate"`
}

// Service owns the tracer provider lifecycle.
type Service struct {
	config   Config
	logger   *zap.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewService builds the tracer provider. With tracing disabled the service is
// inert and Tracer() hands out a noop tracer.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if !config.Enabled {
		logger.Info("Tracing disabled")
		return &Service{config: config, logger: logger}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(config.Exporter)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.Sampling.Rate)),
	)
	otel.SetTracerProvider(provider)

	logger.Info("Tracing initialized",
		zap.String("service", config.ServiceName),
		zap.String("version", config.ServiceVersion),
		zap.String("environment", config.Environment),
		zap.String("exporter", config.Exporter.Type),
		zap.Float64("sampling_rate", config.Sampling.Rate))

	return &Service{
		config:   config,
		logger:   logger,
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

func createExporter(config ExporterConfig) (trace.SpanExporter, error) {
	switch config.Type {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if config.Endpoint == "" {
			return nil, fmt.Errorf("OTLP endpoint is required")
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
		}
		if len(config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
		}
		return otlptracehttp.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.Type)
	}
}

// Start is part of the component lifecycle. The provider is already running
// after NewService; this only logs.
func (s *Service) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	s.logger.Info("Tracing service started")
	return nil
}

// Stop flushes pending spans and shuts down the provider.
func (s *Service) Stop(ctx context.Context) error {
	if !s.config.Enabled || s.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.provider.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown tracer provider", zap.Error(err))
		return err
	}

	s.logger.Info("Tracing service stopped")
	return nil
}

// Tracer returns the service tracer, or a noop tracer when disabled.
func (s *Service) Tracer() oteltrace.Tracer {
	if s.tracer == nil {
		return otel.Tracer("noop")
	}
	return s.tracer
}

// IsEnabled reports whether tracing is active.
func (s *Service) IsEnabled() bool {
	return s.config.Enabled
}
