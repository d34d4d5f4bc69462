package collector

import (
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/buffer"
	"go.uber.org/zap"
)

// DefaultEventCapacity bounds the performance event buffer.
const DefaultEventCapacity = 200

// EventKind tags a performance event variant.
type EventKind string

const (
	KindLongTask     EventKind = "long-task"
	KindLayoutShift  EventKind = "layout-shift"
	KindSlowResource EventKind = "slow-resource"
	KindCustomTimer  EventKind = "custom-timer"
)

// Collector-side diagnostic thresholds. The browser monitor emits at lower
// thresholds (see config.MonitorConfig); the two sets are independent
// contracts and must stay distinct.
const (
	LongTaskLogThresholdMs     = 100
	LayoutShiftLogThreshold    = 0.25
	SlowResourceLogThresholdMs = 5000
)

// PerfEvent is the tagged-variant interface over the performance event
// kinds. Each variant carries only its own fields; decoding happens at the
// ingestion boundary with an explicit kind switch.
type PerfEvent interface {
	Kind() EventKind
	// Magnitude is the event's numeric size: a duration in milliseconds
	// for timed kinds, a unitless score for layout shifts.
	Magnitude() float64
	PageURL() string
	OccurredAt() time.Time
}

// LongTask is a main-thread task that blocked the page.
type LongTask struct {
	DurationMs float64   `json:"duration_ms"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e LongTask) Kind() EventKind       { return KindLongTask }
func (e LongTask) Magnitude() float64    { return e.DurationMs }
func (e LongTask) PageURL() string       { return e.URL }
func (e LongTask) OccurredAt() time.Time { return e.Timestamp }

// LayoutShift is an unexpected viewport shift.
type LayoutShift struct {
	Value     float64   `json:"value"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

func (e LayoutShift) Kind() EventKind       { return KindLayoutShift }
func (e LayoutShift) Magnitude() float64    { return e.Value }
func (e LayoutShift) PageURL() string       { return e.URL }
func (e LayoutShift) OccurredAt() time.Time { return e.Timestamp }

// SlowResource is a subresource that took unusually long to load.
type SlowResource struct {
	Name       string    `json:"name"`
	DurationMs float64   `json:"duration_ms"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e SlowResource) Kind() EventKind       { return KindSlowResource }
func (e SlowResource) Magnitude() float64    { return e.DurationMs }
func (e SlowResource) PageURL() string       { return e.URL }
func (e SlowResource) OccurredAt() time.Time { return e.Timestamp }

// CustomTimer is an application-defined measurement.
type CustomTimer struct {
	Name       string    `json:"name"`
	DurationMs float64   `json:"duration_ms"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e CustomTimer) Kind() EventKind       { return KindCustomTimer }
func (e CustomTimer) Magnitude() float64    { return e.DurationMs }
func (e CustomTimer) PageURL() string       { return e.URL }
func (e CustomTimer) OccurredAt() time.Time { return e.Timestamp }

// EventCategoryStats summarizes one event kind. Kinds with no events report
// all-zero values rather than being omitted.
type EventCategoryStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
}

// EventCollector ingests the four performance event kinds into one shared
// buffer and splits by kind at aggregation time.
type EventCollector struct {
	logger *zap.Logger
	buf    *buffer.Ring[PerfEvent]
}

// NewEventCollector creates a resource/task event collector.
func NewEventCollector(capacity int, logger *zap.Logger) *EventCollector {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventCollector{
		logger: logger,
		buf:    buffer.New[PerfEvent](capacity),
	}
}

// Record appends an event, logging a diagnostic when its magnitude crosses
// the collector-side threshold for its kind.
func (c *EventCollector) Record(event PerfEvent) {
	c.buf.Append(event)

	threshold, interesting := logThreshold(event.Kind())
	if interesting && event.Magnitude() > threshold {
		c.logger.Warn("Performance event over threshold",
			zap.String("kind", string(event.Kind())),
			zap.Float64("magnitude", event.Magnitude()),
			zap.Float64("threshold", threshold),
			zap.String("url", event.PageURL()))
	}
}

func logThreshold(kind EventKind) (float64, bool) {
	switch kind {
	case KindLongTask:
		return LongTaskLogThresholdMs, true
	case KindLayoutShift:
		return LayoutShiftLogThreshold, true
	case KindSlowResource:
		return SlowResourceLogThresholdMs, true
	default:
		return 0, false
	}
}

// Events returns buffered events newest-first, optionally filtered by kind
// and truncated to limit.
func (c *EventCollector) Events(kind EventKind, limit int) []PerfEvent {
	var filter func(PerfEvent) bool
	if kind != "" {
		filter = func(e PerfEvent) bool { return e.Kind() == kind }
	}
	return c.buf.Snapshot(filter, limit)
}

// Stats splits the buffer by kind and computes per-kind count, average and
// maximum magnitude. Every kind appears in the result.
func (c *EventCollector) Stats() map[EventKind]EventCategoryStats {
	sums := make(map[EventKind]float64)
	out := map[EventKind]EventCategoryStats{
		KindLongTask:     {},
		KindLayoutShift:  {},
		KindSlowResource: {},
		KindCustomTimer:  {},
	}

	for _, e := range c.buf.All() {
		st := out[e.Kind()]
		st.Count++
		if e.Magnitude() > st.Max {
			st.Max = e.Magnitude()
		}
		sums[e.Kind()] += e.Magnitude()
		out[e.Kind()] = st
	}

	for kind, st := range out {
		if st.Count > 0 {
			st.Avg = sums[kind] / float64(st.Count)
			out[kind] = st
		}
	}
	return out
}

// Len returns the number of buffered events.
func (c *EventCollector) Len() int {
	return c.buf.Len()
}

// Clear empties the event buffer.
func (c *EventCollector) Clear() {
	c.buf.Clear()
}
