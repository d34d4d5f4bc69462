package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"github.com/Oualidl290/new-andalus-telemetry/internal/stats"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	collectors := Collectors{
		Queries: collector.NewQueryTracker(collector.QueryTrackerConfig{Enabled: true}, logger),
		Vitals:  collector.NewVitalsCollector(0, logger),
		Events:  collector.NewEventCollector(0, logger),
		Images:  collector.NewImageCollector(0, logger),
		Issues:  collector.NewIssueTracker(0, 0, logger),
	}
	monitor := config.MonitorConfig{
		Enabled:                 true,
		SampleRate:              1.0,
		LongTaskThresholdMs:     50,
		LayoutShiftThreshold:    0.1,
		SlowResourceThresholdMs: 2000,
	}

	server := NewServer(logger, collectors, nil, nil, monitor, nil, nil, 0, "test")
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	return server, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestIngestVitals(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/vitals", VitalsIngestRequest{
		URL: "/articles/launch",
		Metrics: []collector.WebVitalMetric{
			{Name: "LCP", Value: 2000, Rating: "good"},
			{Name: "CLS", Value: 0.05, Rating: "good"},
		},
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp AcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Accepted {
		t.Error("accepted = false, want true")
	}

	agg := doJSON(t, mux, http.MethodGet, "/api/v1/vitals/aggregate", nil)
	if agg.Code != http.StatusOK {
		t.Fatalf("aggregate status = %d", agg.Code)
	}
	var aggResp VitalsAggregateResponse
	if err := json.Unmarshal(agg.Body.Bytes(), &aggResp); err != nil {
		t.Fatalf("decoding aggregate: %v", err)
	}
	if aggResp.TotalReports != 1 {
		t.Errorf("TotalReports = %d, want 1", aggResp.TotalReports)
	}
	if lcp, ok := aggResp.Aggregates["LCP"]; !ok || lcp.Count != 1 {
		t.Errorf("LCP aggregate = %+v", aggResp.Aggregates)
	}
}

func TestIngestVitalsValidation(t *testing.T) {
	_, mux := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing url", VitalsIngestRequest{Metrics: []collector.WebVitalMetric{{Name: "LCP", Value: 1}}}},
		{"empty metrics", VitalsIngestRequest{URL: "/a"}},
		{"malformed body", "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/v1/vitals", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

// Client payloads may carry fields this server does not know; they must not
// cause rejection.
func TestIngestIgnoresUnknownFields(t *testing.T) {
	_, mux := newTestServer(t)

	body := map[string]interface{}{
		"url":           "/a",
		"metrics":       []map[string]interface{}{{"name": "LCP", "value": 1200.0}},
		"experimental":  map[string]int{"x": 1},
		"monitor_build": "2024.09",
	}
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/vitals", body)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestEventKinds(t *testing.T) {
	_, mux := newTestServer(t)

	tests := []struct {
		name       string
		req        EventIngestRequest
		wantStatus int
	}{
		{"long task", EventIngestRequest{Kind: "long-task", DurationMs: 120, URL: "/a"}, http.StatusAccepted},
		{"layout shift", EventIngestRequest{Kind: "layout-shift", Value: 0.3, URL: "/a"}, http.StatusAccepted},
		{"slow resource", EventIngestRequest{Kind: "slow-resource", Name: "app.js", DurationMs: 5100}, http.StatusAccepted},
		{"custom timer", EventIngestRequest{Kind: "custom-timer", Name: "hydrate", DurationMs: 40}, http.StatusAccepted},
		{"unknown kind", EventIngestRequest{Kind: "paint"}, http.StatusBadRequest},
		{"slow resource without name", EventIngestRequest{Kind: "slow-resource", DurationMs: 100}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/v1/events", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	stats := doJSON(t, mux, http.MethodGet, "/api/v1/events/stats", nil)
	var statsResp map[string]collector.EventCategoryStats
	if err := json.Unmarshal(stats.Body.Bytes(), &statsResp); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if statsResp["long-task"].Count != 1 {
		t.Errorf("long-task count = %d, want 1", statsResp["long-task"].Count)
	}
}

func TestIngestImage(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/images", ImageIngestRequest{
		Src: "/img/hero.jpg", LoadTimeMs: 3000, SizeBytes: 2 << 20, Format: "jpeg", Width: 4000, Height: 3000,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	stats := doJSON(t, mux, http.MethodGet, "/api/v1/images/stats", nil)
	var statsResp collector.ImageStats
	if err := json.Unmarshal(stats.Body.Bytes(), &statsResp); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if statsResp.SlowImages != 1 || statsResp.LargeImages != 1 {
		t.Errorf("slow/large = %d/%d, want 1/1", statsResp.SlowImages, statsResp.LargeImages)
	}

	missing := doJSON(t, mux, http.MethodPost, "/api/v1/images", ImageIngestRequest{LoadTimeMs: 10})
	if missing.Code != http.StatusBadRequest {
		t.Errorf("missing src status = %d, want 400", missing.Code)
	}
}

func TestIngestAndListErrors(t *testing.T) {
	_, mux := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/errors", ErrorIngestRequest{
			Message: "TypeError: x is undefined",
			Stack:   "at render (app.js:10)\nat main (app.js:2)",
			Level:   "error",
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}
	warn := doJSON(t, mux, http.MethodPost, "/api/v1/errors", ErrorIngestRequest{
		Message: "deprecated call", Level: "warning",
	})
	if warn.Code != http.StatusAccepted {
		t.Fatalf("warning status = %d", warn.Code)
	}

	bad := doJSON(t, mux, http.MethodPost, "/api/v1/errors", ErrorIngestRequest{Message: "x", Level: "fatal"})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("invalid level status = %d, want 400", bad.Code)
	}
	missing := doJSON(t, mux, http.MethodPost, "/api/v1/errors", ErrorIngestRequest{Level: "error"})
	if missing.Code != http.StatusBadRequest {
		t.Errorf("missing message status = %d, want 400", missing.Code)
	}

	list := doJSON(t, mux, http.MethodGet, "/api/v1/errors?level=error", nil)
	var listResp struct {
		Errors []collector.ErrorReport `json:"errors"`
		Count  int                     `json:"count"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if listResp.Count != 3 {
		t.Errorf("filtered count = %d, want 3", listResp.Count)
	}

	stats := doJSON(t, mux, http.MethodGet, "/api/v1/errors/stats", nil)
	var statsResp collector.ErrorStats
	if err := json.Unmarshal(stats.Body.Bytes(), &statsResp); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if statsResp.TotalErrors != 4 || statsResp.RecentErrors != 4 {
		t.Errorf("total/recent = %d/%d, want 4/4", statsResp.TotalErrors, statsResp.RecentErrors)
	}
	// All three identical errors share one fingerprint.
	if len(statsResp.ErrorsByFingerprint) != 2 {
		t.Errorf("fingerprints = %d, want 2", len(statsResp.ErrorsByFingerprint))
	}
}

func TestIngestIssueValidation(t *testing.T) {
	_, mux := newTestServer(t)

	ok := doJSON(t, mux, http.MethodPost, "/api/v1/issues", IssueIngestRequest{
		Type: "slow-query", Severity: "critical", Description: "articles listing over budget",
	})
	if ok.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", ok.Code, ok.Body.String())
	}

	badType := doJSON(t, mux, http.MethodPost, "/api/v1/issues", IssueIngestRequest{Type: "meltdown", Severity: "low"})
	if badType.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", badType.Code)
	}
	badSeverity := doJSON(t, mux, http.MethodPost, "/api/v1/issues", IssueIngestRequest{Type: "high-cpu", Severity: "extreme"})
	if badSeverity.Code != http.StatusBadRequest {
		t.Errorf("bad severity status = %d, want 400", badSeverity.Code)
	}

	list := doJSON(t, mux, http.MethodGet, "/api/v1/issues?severity=critical", nil)
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if listResp.Count != 1 {
		t.Errorf("count = %d, want 1", listResp.Count)
	}
}

func TestIngestVitalsRatingValidation(t *testing.T) {
	server, mux := newTestServer(t)

	bad := doJSON(t, mux, http.MethodPost, "/api/v1/vitals", VitalsIngestRequest{
		URL:     "/a",
		Metrics: []collector.WebVitalMetric{{Name: "LCP", Value: 2000, Rating: "excellent"}},
	})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d, want 400: %s", bad.Code, bad.Body.String())
	}
	if server.c.Vitals.Len() != 0 {
		t.Error("report with invalid rating was stored")
	}

	for _, rating := range []string{"good", "needs-improvement", "poor", ""} {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/vitals", VitalsIngestRequest{
			URL:     "/a",
			Metrics: []collector.WebVitalMetric{{Name: "LCP", Value: 2000, Rating: rating}},
		})
		if rec.Code != http.StatusAccepted {
			t.Errorf("rating %q status = %d, want 202", rating, rec.Code)
		}
	}
}

func TestListDefaultLimits(t *testing.T) {
	server, mux := newTestServer(t)

	for i := 0; i < 110; i++ {
		server.c.Vitals.Record(collector.VitalsReport{
			URL:     fmt.Sprintf("/articles/%d", i),
			Metrics: []collector.WebVitalMetric{{Name: "LCP", Value: 1000}},
		})
	}
	for i := 0; i < 60; i++ {
		server.c.Issues.CaptureReport(collector.ErrorReport{Message: fmt.Sprintf("boom %d", i)})
	}

	var listResp struct {
		Count int `json:"count"`
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/vitals", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding vitals list: %v", err)
	}
	if listResp.Count != 100 {
		t.Errorf("vitals count without limit = %d, want 100", listResp.Count)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/errors", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding errors list: %v", err)
	}
	if listResp.Count != 50 {
		t.Errorf("errors count without limit = %d, want 50", listResp.Count)
	}

	// An explicit limit still wins.
	rec = doJSON(t, mux, http.MethodGet, "/api/v1/vitals?limit=7", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decoding limited list: %v", err)
	}
	if listResp.Count != 7 {
		t.Errorf("vitals count with limit=7 = %d, want 7", listResp.Count)
	}
}

func TestVitalsBudget(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/vitals/budget", BudgetRequest{
		Metrics: []collector.WebVitalMetric{
			{Name: "LCP", Value: 5000},
			{Name: "CLS", Value: 0.15},
			{Name: "TTFB", Value: 300},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var result collector.BudgetResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Passed {
		t.Error("budget passed despite LCP violation")
	}
	if len(result.Violations) != 1 || len(result.Warnings) != 1 {
		t.Errorf("violations/warnings = %d/%d, want 1/1", len(result.Violations), len(result.Warnings))
	}

	// A caller-supplied budget overrides the fixed thresholds per metric.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/vitals/budget", BudgetRequest{
		Metrics: []collector.WebVitalMetric{{Name: "LCP", Value: 5000}},
		Budget:  map[string]stats.Thresholds{"LCP": {Good: 6000, Poor: 8000}},
	})
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding override result: %v", err)
	}
	if !result.Passed || len(result.Violations) != 0 {
		t.Errorf("relaxed budget result = %+v, want pass", result)
	}
}

func TestQueryConfigActions(t *testing.T) {
	server, mux := newTestServer(t)

	threshold := 250.0
	enabled := false
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/queries/config", QueryConfigRequest{
		Action:               "configure",
		SlowQueryThresholdMs: &threshold,
		Enabled:              &enabled,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp QueryConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Enabled || resp.SlowQueryThresholdMs != 250 {
		t.Errorf("response = %+v", resp)
	}
	if server.c.Queries.Enabled() {
		t.Error("tracker still enabled after configure")
	}

	unknown := doJSON(t, mux, http.MethodPost, "/api/v1/queries/config", QueryConfigRequest{Action: "explode"})
	if unknown.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", unknown.Code)
	}

	clear := doJSON(t, mux, http.MethodPost, "/api/v1/queries/config", QueryConfigRequest{Action: "clear"})
	if clear.Code != http.StatusOK {
		t.Errorf("clear status = %d", clear.Code)
	}
}

func TestMonitorConfigEndpoint(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/monitor/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp MonitorConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.LongTaskThresholdMs != 50 || resp.LayoutShiftThreshold != 0.1 || resp.SlowResourceThresholdMs != 2000 {
		t.Errorf("monitor thresholds = %+v", resp)
	}
	// These differ from the collector logging thresholds on purpose.
	if resp.LongTaskThresholdMs == collector.LongTaskLogThresholdMs {
		t.Error("monitor threshold must stay below the collector logging threshold")
	}
}

func TestEmptyReadsDegrade(t *testing.T) {
	_, mux := newTestServer(t)

	paths := []string{
		"/api/v1/vitals/aggregate",
		"/api/v1/queries",
		"/api/v1/queries/stats",
		"/api/v1/events/stats",
		"/api/v1/images/stats",
		"/api/v1/errors",
		"/api/v1/errors/stats",
		"/api/v1/issues",
		"/api/v1/status",
	}
	for _, path := range paths {
		rec := doJSON(t, mux, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	stats := doJSON(t, mux, http.MethodGet, "/api/v1/queries/stats", nil)
	var qs collector.QueryStats
	if err := json.Unmarshal(stats.Body.Bytes(), &qs); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if qs.TotalQueries != 0 || qs.AvgDurationMs != 0 {
		t.Errorf("empty stats = %+v, want zeros", qs)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/vitals", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/monitor/config", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST monitor config status = %d, want 405", rec.Code)
	}
}

func TestOptimizeWithoutOrchestrator(t *testing.T) {
	_, mux := newTestServer(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/optimize", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := zaptest.NewLogger(t)
	limiter := NewIPRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             2,
	}, logger)
	defer limiter.Stop()

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/vitals", strings.NewReader("{}"))
		req.RemoteAddr = "10.1.2.3:55000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusAccepted || statuses[1] != http.StatusAccepted {
		t.Errorf("burst requests rejected: %v", statuses)
	}
	limited := 0
	for _, s := range statuses[2:] {
		if s == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Errorf("no request rate limited: %v", statuses)
	}

	// A different client gets its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/vitals", strings.NewReader("{}"))
	req.RemoteAddr = "10.9.9.9:55000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("fresh client status = %d, want 202", rec.Code)
	}
}

func TestDisabledRateLimiterIsNil(t *testing.T) {
	if l := NewIPRateLimiter(config.RateLimitConfig{Enabled: false}, zaptest.NewLogger(t)); l != nil {
		t.Error("disabled limiter should be nil")
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newTestServer(t)

	for i := 0; i < 2; i++ {
		doJSON(t, mux, http.MethodPost, "/api/v1/errors", ErrorIngestRequest{Message: fmt.Sprintf("boom %d", i)})
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/status", nil)
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if resp.Version != "test" || resp.Status != "healthy" {
		t.Errorf("version/status = %q/%q", resp.Version, resp.Status)
	}
	if resp.Errors.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", resp.Errors.TotalErrors)
	}
}
