package api

import (
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/stats"
)

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version    string               `json:"version"`
	Status     string               `json:"status"`
	Uptime     string               `json:"uptime"`
	Collectors CollectorsStatus     `json:"collectors"`
	Queries    collector.QueryStats `json:"queries"`
	Errors     collector.ErrorStats `json:"errors"`
	Images     collector.ImageStats `json:"images"`
	LastUpdate time.Time            `json:"last_update"`
}

// CollectorsStatus reports the fill level of each in-memory buffer.
type CollectorsStatus struct {
	VitalsReports int `json:"vitals_reports"`
	Events        int `json:"events"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// AcceptedResponse acknowledges an ingestion request.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// VitalsIngestRequest is the POST /api/v1/vitals body. Unknown fields are
// ignored; the browser monitor is free to send more than we read.
type VitalsIngestRequest struct {
	URL            string                     `json:"url"`
	TimestampMs    int64                      `json:"timestamp_ms,omitempty"`
	Metrics        []collector.WebVitalMetric `json:"metrics"`
	UserAgent      string                     `json:"user_agent,omitempty"`
	ConnectionType string                     `json:"connection_type,omitempty"`
}

// EventIngestRequest is the POST /api/v1/events body. Kind selects the
// variant; only that variant's fields are read.
type EventIngestRequest struct {
	Kind        string  `json:"kind"`
	Name        string  `json:"name,omitempty"`
	DurationMs  float64 `json:"duration_ms,omitempty"`
	Value       float64 `json:"value,omitempty"`
	URL         string  `json:"url,omitempty"`
	TimestampMs int64   `json:"timestamp_ms,omitempty"`
}

// ImageIngestRequest is the POST /api/v1/images body.
type ImageIngestRequest struct {
	Src         string  `json:"src"`
	LoadTimeMs  float64 `json:"load_time_ms"`
	SizeBytes   int64   `json:"size_bytes"`
	Format      string  `json:"format,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	TimestampMs int64   `json:"timestamp_ms,omitempty"`
}

// ErrorIngestRequest is the POST /api/v1/errors body.
type ErrorIngestRequest struct {
	Message     string         `json:"message"`
	Stack       string         `json:"stack,omitempty"`
	URL         string         `json:"url,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Level       string         `json:"level,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	TimestampMs int64          `json:"timestamp_ms,omitempty"`
}

// IssueIngestRequest is the POST /api/v1/issues body.
type IssueIngestRequest struct {
	Type        string             `json:"type"`
	Severity    string             `json:"severity"`
	Description string             `json:"description,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	URL         string             `json:"url,omitempty"`
	TimestampMs int64              `json:"timestamp_ms,omitempty"`
}

// BudgetRequest is the POST /api/v1/vitals/budget body: raw samples to
// evaluate, with optional per-metric threshold overrides. Metrics absent
// from the budget use the fixed thresholds.
type BudgetRequest struct {
	Metrics []collector.WebVitalMetric  `json:"metrics"`
	Budget  map[string]stats.Thresholds `json:"budget,omitempty"`
}

// QueryConfigRequest is the POST /api/v1/queries/config body.
type QueryConfigRequest struct {
	Action               string   `json:"action"` // "clear" or "configure"
	SlowQueryThresholdMs *float64 `json:"slow_query_threshold_ms,omitempty"`
	Enabled              *bool    `json:"enabled,omitempty"`
}

// QueryConfigResponse reports the tracker state after a config action.
type QueryConfigResponse struct {
	Action               string  `json:"action"`
	Enabled              bool    `json:"enabled"`
	SlowQueryThresholdMs float64 `json:"slow_query_threshold_ms"`
}

// MonitorConfigResponse is the browser monitor's runtime configuration,
// served by GET /api/v1/monitor/config. Its thresholds are the client-side
// emission thresholds, not the collectors' logging thresholds.
type MonitorConfigResponse struct {
	Enabled                 bool    `json:"enabled"`
	SampleRate              float64 `json:"sample_rate"`
	LongTaskThresholdMs     float64 `json:"long_task_threshold_ms"`
	LayoutShiftThreshold    float64 `json:"layout_shift_threshold"`
	SlowResourceThresholdMs float64 `json:"slow_resource_threshold_ms"`
}

// VitalsAggregateResponse is returned by GET /api/v1/vitals/aggregate.
type VitalsAggregateResponse struct {
	Aggregates   map[string]collector.VitalAggregate `json:"aggregates"`
	TotalReports int                                 `json:"total_reports"`
}
