// Package stats contains the shared statistical routines used by the
// collectors: percentile by sorted index, summary aggregates and
// threshold-based health classification.
package stats

import "sort"

// Rating classifies an aggregated value against a threshold pair.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Thresholds holds a good/poor boundary pair. Values at or below Good rate
// good, at or below Poor rate needs-improvement, above Poor rate poor.
type Thresholds struct {
	Good float64 `json:"good"`
	Poor float64 `json:"poor"`
}

// Rate maps a value onto a rating using the threshold pair.
func (t Thresholds) Rate(value float64) Rating {
	switch {
	case value <= t.Good:
		return RatingGood
	case value <= t.Poor:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// Summary holds aggregate statistics over a numeric sample set.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
}

// Percentile returns the p-th percentile of an ascending-sorted sample set,
// selected by direct index floor(k*p) without interpolation. p must be in
// [0, 1). Returns 0 for an empty set.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Summarize computes count, min, max, mean and the standard percentile set
// over values. An empty input yields the all-zero summary, never a division
// by zero.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   sum / float64(len(sorted)),
		P50:   Percentile(sorted, 0.50),
		P75:   Percentile(sorted, 0.75),
		P90:   Percentile(sorted, 0.90),
		P95:   Percentile(sorted, 0.95),
	}
}

// Mean returns the arithmetic mean of values, 0 for an empty set.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MinMax returns the smallest and largest of values, (0, 0) for an empty set.
func MinMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
