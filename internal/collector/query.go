// Package collector contains the in-memory telemetry collectors: database
// query timings, web vitals, performance events, image loads and error
// reports. Each collector owns a bounded buffer and computes aggregates over
// a snapshot on demand; readers never see live buffer references.
package collector

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/buffer"
	"go.uber.org/zap"
)

const (
	// DefaultSlowQueryThresholdMs is the boundary above which a measured
	// operation is flagged as a slow query.
	DefaultSlowQueryThresholdMs = 100

	// DefaultQueryCapacity bounds the query sample buffer.
	DefaultQueryCapacity = 100
)

// TimedSample records one measured operation. Samples are immutable once
// stored; eviction is their only state transition.
type TimedSample struct {
	Operation  string    `json:"operation"`
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Params     []any     `json:"params,omitempty"`
	Error      string    `json:"error,omitempty"`
	RowCount   int       `json:"row_count,omitempty"`
}

// QueryStats summarizes the entire current sample buffer.
type QueryStats struct {
	TotalQueries  int     `json:"total_queries"`
	SlowQueries   int     `json:"slow_queries"`
	ErrorQueries  int     `json:"error_queries"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
	MinDurationMs float64 `json:"min_duration_ms"`
}

// MetricsOptions filters a sample read.
type MetricsOptions struct {
	Limit     int
	SlowOnly  bool
	ErrorOnly bool
}

// QueryTracker measures wall-clock duration around arbitrary operations and
// keeps the most recent samples. Instrumentation failures never mask the
// wrapped operation's own result.
type QueryTracker struct {
	logger *zap.Logger
	buf    *buffer.Ring[TimedSample]

	mu              sync.RWMutex
	enabled         bool
	slowThresholdMs float64
}

// QueryTrackerConfig configures a QueryTracker.
type QueryTrackerConfig struct {
	Capacity        int
	SlowThresholdMs float64
	Enabled         bool
}

// NewQueryTracker creates a query timing collector.
func NewQueryTracker(cfg QueryTrackerConfig, logger *zap.Logger) *QueryTracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultQueryCapacity
	}
	if cfg.SlowThresholdMs <= 0 {
		cfg.SlowThresholdMs = DefaultSlowQueryThresholdMs
	}
	return &QueryTracker{
		logger:          logger,
		buf:             buffer.New[TimedSample](cfg.Capacity),
		enabled:         cfg.Enabled,
		slowThresholdMs: cfg.SlowThresholdMs,
	}
}

// Measure runs fn, recording its duration, error and row count. The
// function's result and error are returned unchanged; a failing fn is
// re-raised to the caller exactly as it failed. When the tracker is
// disabled, fn runs with no instrumentation at all.
func (q *QueryTracker) Measure(ctx context.Context, operation string, fn func(context.Context) (any, error)) (any, error) {
	q.mu.RLock()
	enabled := q.enabled
	threshold := q.slowThresholdMs
	q.mu.RUnlock()

	if !enabled {
		return fn(ctx)
	}

	start := time.Now()
	result, err := fn(ctx)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)

	sample := TimedSample{
		Operation:  operation,
		DurationMs: durationMs,
		Timestamp:  start,
	}
	if err != nil {
		sample.Error = err.Error()
	} else {
		sample.RowCount = countRows(result)
	}

	q.record(sample, threshold)

	return result, err
}

// record stores a sample and emits the slow-query diagnostic. It must never
// panic out into the instrumented call path.
func (q *QueryTracker) record(sample TimedSample, thresholdMs float64) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Query instrumentation failed",
				zap.String("operation", sample.Operation),
				zap.Any("panic", r))
		}
	}()

	q.buf.Append(sample)

	if sample.DurationMs > thresholdMs {
		q.logger.Warn("Slow query detected",
			zap.String("operation", sample.Operation),
			zap.Float64("duration_ms", sample.DurationMs),
			zap.Float64("threshold_ms", thresholdMs))
	}
}

// Metrics returns samples newest-first, optionally filtered to slow and/or
// erroring queries and truncated to opts.Limit.
func (q *QueryTracker) Metrics(opts MetricsOptions) []TimedSample {
	q.mu.RLock()
	threshold := q.slowThresholdMs
	q.mu.RUnlock()

	var filter func(TimedSample) bool
	if opts.SlowOnly || opts.ErrorOnly {
		filter = func(s TimedSample) bool {
			if opts.SlowOnly && s.DurationMs <= threshold {
				return false
			}
			if opts.ErrorOnly && s.Error == "" {
				return false
			}
			return true
		}
	}

	return q.buf.Snapshot(filter, opts.Limit)
}

// Stats aggregates over the entire current buffer. An empty buffer yields
// the all-zero result.
func (q *QueryTracker) Stats() QueryStats {
	q.mu.RLock()
	threshold := q.slowThresholdMs
	q.mu.RUnlock()

	samples := q.buf.All()
	if len(samples) == 0 {
		return QueryStats{}
	}

	st := QueryStats{
		TotalQueries:  len(samples),
		MinDurationMs: samples[0].DurationMs,
	}

	sum := 0.0
	for _, s := range samples {
		sum += s.DurationMs
		if s.DurationMs > threshold {
			st.SlowQueries++
		}
		if s.Error != "" {
			st.ErrorQueries++
		}
		if s.DurationMs > st.MaxDurationMs {
			st.MaxDurationMs = s.DurationMs
		}
		if s.DurationMs < st.MinDurationMs {
			st.MinDurationMs = s.DurationMs
		}
	}
	st.AvgDurationMs = sum / float64(len(samples))

	return st
}

// SetSlowThreshold updates the slow-query boundary in milliseconds.
func (q *QueryTracker) SetSlowThreshold(ms float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ms > 0 {
		q.slowThresholdMs = ms
	}
}

// SlowThreshold returns the current slow-query boundary in milliseconds.
func (q *QueryTracker) SlowThreshold() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.slowThresholdMs
}

// SetEnabled toggles instrumentation. When disabled, Measure becomes a plain
// passthrough.
func (q *QueryTracker) SetEnabled(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enabled = enabled
}

// Enabled reports whether instrumentation is active.
func (q *QueryTracker) Enabled() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.enabled
}

// Clear empties the sample buffer without touching configuration.
func (q *QueryTracker) Clear() {
	q.buf.Clear()
}

// countRows returns the length of a countable result (slice, array or map),
// or 0 when the result is not countable.
func countRows(result any) int {
	if result == nil {
		return 0
	}
	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len()
	default:
		return 0
	}
}
