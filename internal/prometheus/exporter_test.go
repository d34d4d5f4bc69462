package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		BindAddress: "127.0.0.1:0",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}
}

func newTestExporter(t *testing.T) (*Exporter, Sources) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sources := Sources{
		Queries: collector.NewQueryTracker(collector.QueryTrackerConfig{Enabled: true}, logger),
		Vitals:  collector.NewVitalsCollector(0, logger),
		Events:  collector.NewEventCollector(0, logger),
		Images:  collector.NewImageCollector(0, logger),
		Issues:  collector.NewIssueTracker(0, 0, logger),
	}

	exporter, err := NewExporter(testServerConfig(), sources, logger)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	return exporter, sources
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading scrape body: %v", err)
	}
	return string(body)
}

func TestScrapeReflectsCollectorState(t *testing.T) {
	exporter, sources := newTestExporter(t)

	now := time.Now()
	sources.Vitals.Record(collector.VitalsReport{
		URL:       "/articles/launch",
		Timestamp: now,
		Metrics: []collector.WebVitalMetric{
			{Name: "LCP", Value: 3000},
			{Name: "CLS", Value: 0.05},
		},
	})
	sources.Events.Record(collector.LongTask{DurationMs: 120, URL: "/a", Timestamp: now})
	sources.Images.TrackLoad("/img/hero.jpg", 3000, 2<<20, "jpeg", collector.ImageDimensions{Width: 4000, Height: 3000})
	sources.Issues.CaptureError("TypeError: x is undefined", collector.CaptureOptions{Level: collector.LevelError})

	body := scrape(t, exporter.Handler())

	wantLines := []string{
		`telemetry_vitals_reports_buffered 1`,
		`telemetry_vitals_p75{metric="LCP"} 3000`,
		// 3000ms LCP sits between the good and poor thresholds.
		`telemetry_vitals_rating{metric="LCP"} 1`,
		`telemetry_vitals_rating{metric="CLS"} 0`,
		`telemetry_events_buffered{kind="long-task"} 1`,
		`telemetry_images_slow 1`,
		`telemetry_images_large 1`,
		`telemetry_errors_buffered 1`,
		`telemetry_errors_by_level{level="error"} 1`,
	}
	for _, line := range wantLines {
		if !strings.Contains(body, line) {
			t.Errorf("scrape output missing %q", line)
		}
	}
}

func TestScrapeEmptyCollectors(t *testing.T) {
	exporter, _ := newTestExporter(t)

	body := scrape(t, exporter.Handler())
	for _, line := range []string{
		`telemetry_queries_buffered 0`,
		`telemetry_vitals_reports_buffered 0`,
		`telemetry_images_buffered 0`,
		`telemetry_errors_buffered 0`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("scrape output missing %q", line)
		}
	}
}

func TestQueryGaugesFromStats(t *testing.T) {
	exporter, sources := newTestExporter(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sources.Queries.Measure(ctx, "articles.list", func(context.Context) (any, error) {
			return nil, nil
		})
	}

	body := scrape(t, exporter.Handler())
	if !strings.Contains(body, `telemetry_queries_buffered 3`) {
		t.Errorf("scrape output missing query count:\n%s", body)
	}
}

func TestHealthHandler(t *testing.T) {
	exporter, _ := newTestExporter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRootHandler(t *testing.T) {
	exporter, _ := newTestExporter(t)
	handler := exporter.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("root status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/metrics") {
		t.Errorf("root page missing metrics link")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	exporter, _ := newTestExporter(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exporter.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exporter did not stop")
	}

	if err := exporter.Stop(context.Background()); err != nil {
		t.Errorf("Stop returned %v", err)
	}
}
