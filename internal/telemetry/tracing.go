package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// Trace operation names
	TraceIngest          = "perf.ingest"
	TraceAggregate       = "perf.aggregate"
	TraceOptimizeRun     = "perf.optimize.run"
	TraceOptimizeStep    = "perf.optimize.step"
	TraceDatabaseAnalyze = "perf.database.analyze"
	TraceConfigReload    = "perf.config.reload"

	// Attribute keys
	AttrIngestKind    = "perf.ingest.kind"
	AttrIngestCount   = "perf.ingest.count"
	AttrMetricName    = "perf.metric.name"
	AttrPageURL       = "perf.page.url"
	AttrOptimizeStep  = "perf.optimize.step"
	AttrOptimizations = "perf.optimize.count"
	AttrErrorType     = "perf.error.type"
	AttrConfigPath    = "perf.config.path"
)

// TraceHelper wraps span creation for the service's hot paths.
type TraceHelper struct {
	tracer oteltrace.Tracer
}

// NewTraceHelper creates a helper bound to the named tracer.
func NewTraceHelper(serviceName string) *TraceHelper {
	return &TraceHelper{tracer: otel.Tracer(serviceName)}
}

// StartSpan starts a span with the given attributes.
func (th *TraceHelper) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return th.tracer.Start(ctx, operationName, oteltrace.WithAttributes(attrs...))
}

// RecordError marks the span failed and records the error.
func (th *TraceHelper) RecordError(span oteltrace.Span, err error, description string) {
	if err != nil {
		span.SetStatus(codes.Error, description)
		span.RecordError(err, oteltrace.WithAttributes(
			attribute.String(AttrErrorType, description),
		))
	}
}

// SetSpanSuccess marks the span successful.
func (th *TraceHelper) SetSpanSuccess(span oteltrace.Span) {
	span.SetStatus(codes.Ok, "Success")
}

// TraceIngestFunc traces one ingestion batch of the given kind.
func (th *TraceHelper) TraceIngestFunc(ctx context.Context, kind string, count int, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceIngest,
		attribute.String(AttrIngestKind, kind),
		attribute.Int(AttrIngestCount, count),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "ingestion failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceAggregateFunc traces an aggregation read.
func (th *TraceHelper) TraceAggregateFunc(ctx context.Context, metric string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceAggregate,
		attribute.String(AttrMetricName, metric),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "aggregation failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceOptimizeStepFunc traces one optimization step inside a run.
func (th *TraceHelper) TraceOptimizeStepFunc(ctx context.Context, step string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceOptimizeStep,
		attribute.String(AttrOptimizeStep, step),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "optimization step failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// TraceDatabaseAnalyzeFunc traces content database maintenance.
func (th *TraceHelper) TraceDatabaseAnalyzeFunc(ctx context.Context, path string, fn func(context.Context) error) error {
	ctx, span := th.StartSpan(ctx, TraceDatabaseAnalyze,
		attribute.String("database.path", path),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, "database analyze failed")
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}

// GetTraceHelper returns a helper bound to the service tracer.
func (s *Service) GetTraceHelper() *TraceHelper {
	if !s.config.Enabled {
		return &TraceHelper{tracer: otel.Tracer("noop")}
	}
	return &TraceHelper{tracer: s.tracer}
}
