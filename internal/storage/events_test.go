package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

func newTestEventStore(t *testing.T) *EventStore {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := Open(Config{DatabasePath: filepath.Join(t.TempDir(), "content.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewEventStore(db.DB(), logger)
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}
	return store
}

func testEvent(id string, eventType telemetry.EventType, ts time.Time) telemetry.Event {
	return telemetry.Event{
		ID:        id,
		Type:      eventType,
		Timestamp: ts,
		Component: "optimizer",
		Summary:   "test event",
		Details:   map[string]interface{}{"total_optimizations": float64(3)},
		Severity:  telemetry.SeverityInfo,
	}
}

func TestStoreAndGetEvents(t *testing.T) {
	store := newTestEventStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []telemetry.Event{
		testEvent("evt_1", telemetry.EventTypeOptimization, now.Add(-2*time.Hour)),
		testEvent("evt_2", telemetry.EventTypeConfiguration, now.Add(-time.Hour)),
		testEvent("evt_3", telemetry.EventTypeOptimization, now),
	}
	for _, e := range events {
		if err := store.StoreEvent(ctx, e); err != nil {
			t.Fatalf("StoreEvent(%s): %v", e.ID, err)
		}
	}

	all, err := store.GetEvents(ctx, telemetry.EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "evt_3" {
		t.Errorf("first event = %s, want evt_3 (newest first)", all[0].ID)
	}
	if all[0].Details["total_optimizations"] != float64(3) {
		t.Errorf("details round trip = %v", all[0].Details)
	}

	optimizations, err := store.GetEvents(ctx, telemetry.EventFilter{Type: telemetry.EventTypeOptimization})
	if err != nil {
		t.Fatalf("GetEvents filtered: %v", err)
	}
	if len(optimizations) != 2 {
		t.Errorf("optimization events = %d, want 2", len(optimizations))
	}

	limited, err := store.GetEvents(ctx, telemetry.EventFilter{Limit: 1})
	if err != nil {
		t.Fatalf("GetEvents limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited events = %d, want 1", len(limited))
	}
}

func TestGetEventsTimeWindow(t *testing.T) {
	store := newTestEventStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	store.StoreEvent(ctx, testEvent("old", telemetry.EventTypeOptimization, now.Add(-48*time.Hour)))
	store.StoreEvent(ctx, testEvent("new", telemetry.EventTypeOptimization, now))

	recent, err := store.GetEvents(ctx, telemetry.EventFilter{StartTime: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "new" {
		t.Errorf("recent = %+v, want only the new event", recent)
	}
}

func TestPrune(t *testing.T) {
	store := newTestEventStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	store.StoreEvent(ctx, testEvent("old", telemetry.EventTypeOptimization, now.Add(-48*time.Hour)))
	store.StoreEvent(ctx, testEvent("new", telemetry.EventTypeOptimization, now))

	deleted, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	remaining, err := store.GetEvents(ctx, telemetry.EventFilter{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "new" {
		t.Errorf("remaining = %+v", remaining)
	}
}

// A stub driver whose statements execute fine but cannot report how many
// rows they touched.
type noRowCountDriver struct{}

func (noRowCountDriver) Open(string) (driver.Conn, error) { return noRowCountConn{}, nil }

type noRowCountConn struct{}

func (noRowCountConn) Prepare(string) (driver.Stmt, error) { return noRowCountStmt{}, nil }
func (noRowCountConn) Close() error                        { return nil }
func (noRowCountConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

type noRowCountStmt struct{}

func (noRowCountStmt) Close() error  { return nil }
func (noRowCountStmt) NumInput() int { return -1 }
func (noRowCountStmt) Exec([]driver.Value) (driver.Result, error) {
	return noRowCountResult{}, nil
}
func (noRowCountStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

type noRowCountResult struct{}

func (noRowCountResult) LastInsertId() (int64, error) { return 0, nil }
func (noRowCountResult) RowsAffected() (int64, error) {
	return 0, errors.New("row count unavailable")
}

func init() {
	sql.Register("norowcount", noRowCountDriver{})
}

func TestPruneReportsRowCountFailure(t *testing.T) {
	db, err := sql.Open("norowcount", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewEventStore(db, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewEventStore: %v", err)
	}

	if _, err := store.Prune(context.Background(), 24*time.Hour); err == nil {
		t.Fatal("Prune swallowed the row count failure")
	} else if !strings.Contains(err.Error(), "count pruned") {
		t.Errorf("err = %v, want a pruned-count error", err)
	}
}
