package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	cfg.Server.BindAddress = "127.0.0.1:0"
	cfg.Telemetry.Enabled = false
	return cfg
}

func TestNewManager(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := NewManager(testConfig(t), "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	if m.IsRunning() {
		t.Error("manager running before Run")
	}
	if m.contentDB != nil {
		t.Error("content database opened without a configured path")
	}
}

func TestNewManagerValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewManager(nil, "", "test", logger); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewManager(testConfig(t), "", "test", nil); err == nil {
		t.Error("nil logger accepted")
	}
}

func TestNewManagerWithDatabase(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig(t)
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "content.db")

	m, err := NewManager(cfg, "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	if m.contentDB == nil {
		t.Fatal("content database not opened")
	}
	if m.eventStore == nil {
		t.Error("event store not created alongside content database")
	}

	health := m.Health()
	if health["database"] != config.HealthStateHealthy {
		t.Errorf("database health = %q", health["database"])
	}
}

func TestHealthComponents(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := NewManager(testConfig(t), "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	health := m.Health()
	// Not running yet, so the API reports unhealthy.
	if health["api"] != config.HealthStateUnhealthy {
		t.Errorf("api health = %q before Run", health["api"])
	}
	if health["cache"] != config.HealthStateHealthy {
		t.Errorf("cache health = %q", health["cache"])
	}
	if _, ok := health["database"]; ok {
		t.Error("database health reported without a database")
	}
}

func TestHealthChangeEventsOnTransition(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig(t)
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "content.db")

	m, err := NewManager(cfg, "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	ctx := context.Background()

	// The first observation only seeds the baseline.
	m.observeHealth(ctx, map[string]string{"api": config.HealthStateUnhealthy})
	events, err := m.eventEmitter.GetEvents(ctx, telemetry.EventFilter{Type: telemetry.EventTypeHealthChange})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("baseline observation emitted %d events, want 0", len(events))
	}

	m.observeHealth(ctx, map[string]string{"api": config.HealthStateHealthy})
	m.observeHealth(ctx, map[string]string{"api": config.HealthStateHealthy})

	events, err = m.eventEmitter.GetEvents(ctx, telemetry.EventFilter{Type: telemetry.EventTypeHealthChange})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly 1 for one transition", len(events))
	}
	if events[0].Component != "api" {
		t.Errorf("event component = %q, want api", events[0].Component)
	}
	if events[0].Details["previous_state"] != config.HealthStateUnhealthy ||
		events[0].Details["new_state"] != config.HealthStateHealthy {
		t.Errorf("event details = %v", events[0].Details)
	}
}

func TestRunFullWithoutDatabase(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := NewManager(testConfig(t), "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	report := m.RunFull(context.Background())
	if !report.Overall.Success {
		t.Errorf("report = %+v, want success with a missing database step", report.Overall)
	}
	if !report.Database.Success {
		t.Error("missing database step should report success with no work done")
	}
}

func TestRunAndShutdown(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := NewManager(testConfig(t), "", "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !m.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !m.IsRunning() {
		t.Fatal("manager did not start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}
	if m.IsRunning() {
		t.Error("manager still running after Run returned")
	}
}

func TestReloadAppliesQueryTunables(t *testing.T) {
	logger := zaptest.NewLogger(t)

	configYAML := `
server:
  bind_address: "127.0.0.1:0"
telemetry:
  enabled: false
collectors:
  queries:
    enabled: true
    slow_threshold_ms: 100
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, err := NewManager(cfg, path, "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	updated := `
server:
  bind_address: "127.0.0.1:0"
telemetry:
  enabled: false
collectors:
  queries:
    enabled: true
    slow_threshold_ms: 250
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := m.queries.SlowThreshold(); got != 250 {
		t.Errorf("slow threshold = %g after reload, want 250", got)
	}
}

func TestReloadMissingFile(t *testing.T) {
	logger := zaptest.NewLogger(t)

	m, err := NewManager(testConfig(t), filepath.Join(t.TempDir(), "gone.yaml"), "test", logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.shutdown()

	if err := m.Reload(context.Background()); err == nil {
		t.Error("reload of a missing file succeeded")
	}
}
