package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventType classifies operational events emitted by the service.
type EventType string

const (
	EventTypeOptimization    EventType = "optimization"
	EventTypeConfiguration   EventType = "configuration"
	EventTypeHealthChange    EventType = "health_change"
	EventTypeThresholdBreach EventType = "threshold_breach"
)

// Event is a structured operational event.
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Component     string                 `json:"component,omitempty"`
	Summary       string                 `json:"summary"`
	Details       map[string]interface{} `json:"details"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Severity      EventSeverity          `json:"severity"`
}

// EventSeverity is the severity level of an event.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// OptimizationEventDetails describes an optimization run outcome.
type OptimizationEventDetails struct {
	Success            bool    `json:"success"`
	TotalOptimizations int     `json:"total_optimizations"`
	TotalErrors        int     `json:"total_errors"`
	DurationMs         float64 `json:"duration_ms"`
	Trigger            string  `json:"trigger,omitempty"` // "manual", "scheduled"
}

// ConfigurationEventDetails describes a configuration load or reload.
type ConfigurationEventDetails struct {
	Action   string                 `json:"action"` // "validated", "loaded", "reloaded"
	Changes  map[string]interface{} `json:"changes,omitempty"`
	Errors   []string               `json:"errors,omitempty"`
	FilePath string                 `json:"file_path,omitempty"`
}

// HealthChangeEventDetails describes a component health transition.
type HealthChangeEventDetails struct {
	PreviousState string `json:"previous_state"`
	NewState      string `json:"new_state"`
	CheckType     string `json:"check_type"` // "endpoint", "database", "cache"
	Error         string `json:"error,omitempty"`
}

// ThresholdBreachEventDetails describes a performance budget or threshold
// breach observed during aggregation.
type ThresholdBreachEventDetails struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	PageURL   string  `json:"page_url,omitempty"`
}

// EventEmitter emits structured events with tracing correlation and optional
// persistence.
type EventEmitter struct {
	service *Service
	logger  *zap.Logger
	storage EventStorage
}

// EventStorage persists emitted events.
type EventStorage interface {
	StoreEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// EventFilter narrows an event query.
type EventFilter struct {
	StartTime time.Time
	EndTime   time.Time
	Component string
	Type      EventType
	Severity  EventSeverity
	Limit     int
}

// NewEventEmitter creates an emitter. storage may be nil: events are then
// logged and traced but not persisted.
func NewEventEmitter(service *Service, logger *zap.Logger, storage EventStorage) *EventEmitter {
	return &EventEmitter{
		service: service,
		logger:  logger,
		storage: storage,
	}
}

// EmitOptimizationEvent emits the outcome of an optimization run.
func (e *EventEmitter) EmitOptimizationEvent(ctx context.Context, details OptimizationEventDetails) error {
	severity := SeverityInfo
	if !details.Success {
		severity = SeverityWarning
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeOptimization,
		Timestamp: time.Now(),
		Component: "optimizer",
		Summary:   formatOptimizationSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitConfigurationEvent emits a configuration event.
func (e *EventEmitter) EmitConfigurationEvent(ctx context.Context, details ConfigurationEventDetails) error {
	severity := SeverityInfo
	if len(details.Errors) > 0 {
		severity = SeverityError
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeConfiguration,
		Timestamp: time.Now(),
		Component: "config",
		Summary:   formatConfigurationSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitHealthChangeEvent emits a component health transition.
func (e *EventEmitter) EmitHealthChangeEvent(ctx context.Context, component string, details HealthChangeEventDetails) error {
	severity := SeverityInfo
	if details.NewState == "unhealthy" || details.NewState == "unknown" {
		severity = SeverityWarning
	}

	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeHealthChange,
		Timestamp: time.Now(),
		Component: component,
		Summary:   formatHealthChangeSummary(details),
		Details:   structToMap(details),
		Severity:  severity,
	}

	return e.emitEvent(ctx, event)
}

// EmitThresholdBreachEvent emits a budget or threshold breach.
func (e *EventEmitter) EmitThresholdBreachEvent(ctx context.Context, details ThresholdBreachEventDetails) error {
	event := Event{
		ID:        generateEventID(),
		Type:      EventTypeThresholdBreach,
		Timestamp: time.Now(),
		Component: "aggregator",
		Summary:   formatThresholdBreachSummary(details),
		Details:   structToMap(details),
		Severity:  SeverityWarning,
	}

	return e.emitEvent(ctx, event)
}

func (e *EventEmitter) emitEvent(ctx context.Context, event Event) error {
	// Correlate with the surrounding trace if one exists.
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		event.CorrelationID = span.SpanContext().TraceID().String()
	}

	if e.service.IsEnabled() {
		_, span := e.service.Tracer().Start(ctx, "event.emit",
			oteltrace.WithAttributes(
				attribute.String("event.type", string(event.Type)),
				attribute.String("event.component", event.Component),
				attribute.String("event.severity", string(event.Severity)),
				attribute.String("event.summary", event.Summary),
			),
		)
		defer span.End()
	}

	if e.storage != nil {
		if err := e.storage.StoreEvent(ctx, event); err != nil {
			e.logger.Error("Failed to store event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			return err
		}
	}

	e.logger.Info("Event emitted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("component", event.Component),
		zap.String("summary", event.Summary),
		zap.String("severity", string(event.Severity)))

	return nil
}

// GetEvents retrieves events from storage.
func (e *EventEmitter) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	if e.storage == nil {
		return nil, fmt.Errorf("event storage not configured")
	}
	return e.storage.GetEvents(ctx, filter)
}

func formatOptimizationSummary(details OptimizationEventDetails) string {
	if details.Success {
		return fmt.Sprintf("Optimization run completed: %d optimizations in %.0fms",
			details.TotalOptimizations, details.DurationMs)
	}
	return fmt.Sprintf("Optimization run finished with %d errors (%d optimizations)",
		details.TotalErrors, details.TotalOptimizations)
}

func formatConfigurationSummary(details ConfigurationEventDetails) string {
	if len(details.Errors) > 0 {
		return fmt.Sprintf("Configuration %s failed: %d errors", details.Action, len(details.Errors))
	}
	return fmt.Sprintf("Configuration %s successfully", details.Action)
}

func formatHealthChangeSummary(details HealthChangeEventDetails) string {
	return fmt.Sprintf("Health changed from %s to %s (%s)",
		details.PreviousState, details.NewState, details.CheckType)
}

func formatThresholdBreachSummary(details ThresholdBreachEventDetails) string {
	return fmt.Sprintf("%s exceeded threshold: %g > %g", details.Metric, details.Value, details.Threshold)
}

func generateEventID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("evt_%s", hex.EncodeToString(bytes))
}

func structToMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return make(map[string]interface{})
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return make(map[string]interface{})
	}
	return result
}
