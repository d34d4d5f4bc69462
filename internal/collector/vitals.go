package collector

import (
	"fmt"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/buffer"
	"github.com/Oualidl290/new-andalus-telemetry/internal/stats"
	"go.uber.org/zap"
)

// DefaultVitalsCapacity bounds the vitals report buffer.
const DefaultVitalsCapacity = 500

// Well-known web vital metric names.
const (
	VitalLCP  = "LCP"
	VitalFID  = "FID"
	VitalCLS  = "CLS"
	VitalFCP  = "FCP"
	VitalTTFB = "TTFB"
	VitalINP  = "INP"
)

// vitalThresholds maps metric names to their good/poor boundaries.
// Unknown metrics fall back to defaultVitalThresholds.
var vitalThresholds = map[string]stats.Thresholds{
	VitalLCP:  {Good: 2500, Poor: 4000},
	VitalFID:  {Good: 100, Poor: 300},
	VitalCLS:  {Good: 0.1, Poor: 0.25},
	VitalFCP:  {Good: 1800, Poor: 3000},
	VitalTTFB: {Good: 800, Poor: 1800},
}

var defaultVitalThresholds = stats.Thresholds{Good: 1000, Poor: 2000}

// VitalThresholds returns the threshold pair for a metric name.
func VitalThresholds(name string) stats.Thresholds {
	if t, ok := vitalThresholds[name]; ok {
		return t
	}
	return defaultVitalThresholds
}

// ValidVitalRating reports whether a client-supplied rating string is one of
// the known variants. The empty string is handled by the caller.
func ValidVitalRating(rating string) bool {
	switch stats.Rating(rating) {
	case stats.RatingGood, stats.RatingNeedsImprovement, stats.RatingPoor:
		return true
	}
	return false
}

// WebVitalMetric is one client-reported timing measurement. The rating is
// caller-supplied and stored as reported; classification at read time uses
// the fixed threshold table instead.
type WebVitalMetric struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Value          float64 `json:"value"`
	Rating         string  `json:"rating"`
	Delta          float64 `json:"delta"`
	NavigationType string  `json:"navigation_type"`
}

// VitalsReport carries the metrics of one page load.
type VitalsReport struct {
	URL            string           `json:"url"`
	Timestamp      time.Time        `json:"timestamp"`
	Metrics        []WebVitalMetric `json:"metrics"`
	UserAgent      string           `json:"user_agent"`
	ConnectionType string           `json:"connection_type,omitempty"`
}

// VitalAggregate is the read-time summary for one metric name.
type VitalAggregate struct {
	stats.Summary
	Rating stats.Rating `json:"rating"`
}

// BudgetResult reports a performance-budget evaluation over raw samples.
type BudgetResult struct {
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}

// VitalsCollector stores whole page-load reports and aggregates per metric
// name on demand. Writes are O(1); aggregation sorts at read time.
type VitalsCollector struct {
	logger *zap.Logger
	buf    *buffer.Ring[VitalsReport]
}

// NewVitalsCollector creates a web-vitals collector. capacity <= 0 selects
// the default.
func NewVitalsCollector(capacity int, logger *zap.Logger) *VitalsCollector {
	if capacity <= 0 {
		capacity = DefaultVitalsCapacity
	}
	return &VitalsCollector{
		logger: logger,
		buf:    buffer.New[VitalsReport](capacity),
	}
}

// Record stores a full page-load report.
func (v *VitalsCollector) Record(report VitalsReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	v.buf.Append(report)

	v.logger.Debug("Vitals report recorded",
		zap.String("url", report.URL),
		zap.Int("metrics", len(report.Metrics)))
}

// Reports returns stored reports newest-first, optionally filtered by URL
// and truncated to limit.
func (v *VitalsCollector) Reports(url string, limit int) []VitalsReport {
	var filter func(VitalsReport) bool
	if url != "" {
		filter = func(r VitalsReport) bool { return r.URL == url }
	}
	return v.buf.Snapshot(filter, limit)
}

// Aggregated explodes all buffered reports' metrics grouped by metric name
// and summarizes each group. The rating classifies the group's p75 against
// the fixed threshold table.
func (v *VitalsCollector) Aggregated() map[string]VitalAggregate {
	byName := make(map[string][]float64)
	for _, report := range v.buf.All() {
		for _, m := range report.Metrics {
			byName[m.Name] = append(byName[m.Name], m.Value)
		}
	}

	out := make(map[string]VitalAggregate, len(byName))
	for name, values := range byName {
		summary := stats.Summarize(values)
		out[name] = VitalAggregate{
			Summary: summary,
			Rating:  VitalThresholds(name).Rate(summary.P75),
		}
	}
	return out
}

// Len returns the number of buffered reports.
func (v *VitalsCollector) Len() int {
	return v.buf.Len()
}

// Clear empties the report buffer.
func (v *VitalsCollector) Clear() {
	v.buf.Clear()
}

// CheckBudget evaluates raw metric samples against a performance budget.
// budget overrides the threshold pair per metric name; metrics it does not
// cover (or a nil budget) fall back to the fixed table. A sample above its
// poor boundary is a violation; one between good and poor is a warning. The
// budget passes iff there are no violations.
func CheckBudget(metrics []WebVitalMetric, budget map[string]stats.Thresholds) BudgetResult {
	result := BudgetResult{
		Passed:     true,
		Violations: []string{},
		Warnings:   []string{},
	}

	for _, m := range metrics {
		t, ok := budget[m.Name]
		if !ok {
			t = VitalThresholds(m.Name)
		}
		switch t.Rate(m.Value) {
		case stats.RatingPoor:
			result.Violations = append(result.Violations, budgetMessage(m, t.Poor, "exceeds budget"))
			result.Passed = false
		case stats.RatingNeedsImprovement:
			result.Warnings = append(result.Warnings, budgetMessage(m, t.Good, "above target"))
		}
	}

	return result
}

func budgetMessage(m WebVitalMetric, bound float64, verb string) string {
	return fmt.Sprintf("%s %s: %g > %g", m.Name, verb, m.Value, bound)
}
