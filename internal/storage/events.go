package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

// EventStore implements telemetry.EventStorage on SQLite. Operational
// events (optimization runs, config reloads, health changes, threshold
// breaches) are the one thing this service persists; metric samples stay
// in memory.
type EventStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventStore creates an event store on the given handle and ensures the
// events table exists.
func NewEventStore(db *sql.DB, logger *zap.Logger) (*EventStore, error) {
	s := &EventStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	return s, nil
}

func (s *EventStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			component TEXT NOT NULL,
			summary TEXT NOT NULL,
			details TEXT,
			correlation_id TEXT,
			severity TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_events_timestamp
			ON telemetry_events (timestamp);
		CREATE INDEX IF NOT EXISTS idx_telemetry_events_type
			ON telemetry_events (type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StoreEvent persists one event.
func (s *EventStore) StoreEvent(ctx context.Context, event telemetry.Event) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	query := `
		INSERT INTO telemetry_events (id, type, timestamp, component, summary, details, correlation_id, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.Component,
		event.Summary,
		string(detailsJSON),
		event.CorrelationID,
		string(event.Severity),
	)
	if err != nil {
		s.logger.Error("Failed to store event",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("failed to store event: %w", err)
	}

	s.logger.Debug("Event stored",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)))
	return nil
}

// GetEvents returns events matching the filter, newest first.
func (s *EventStore) GetEvents(ctx context.Context, filter telemetry.EventFilter) ([]telemetry.Event, error) {
	var conditions []string
	var args []interface{}

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime)
	}
	if filter.Component != "" {
		conditions = append(conditions, "component = ?")
		args = append(args, filter.Component)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}

	query := "SELECT id, type, timestamp, component, summary, details, correlation_id, severity FROM telemetry_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			event       telemetry.Event
			eventType   string
			severity    string
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&event.ID, &eventType, &event.Timestamp, &event.Component,
			&event.Summary, &detailsJSON, &event.CorrelationID, &severity); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = telemetry.EventType(eventType)
		event.Severity = telemetry.EventSeverity(severity)
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &event.Details); err != nil {
				s.logger.Warn("Failed to unmarshal event details",
					zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window and returns how many
// were removed.
func (s *EventStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM telemetry_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned old events", zap.Int64("deleted", n))
	}
	return n, nil
}
