// Package api exposes the telemetry ingestion and read endpoints consumed by
// the browser monitor and the editorial dashboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"github.com/Oualidl290/new-andalus-telemetry/internal/optimize"
	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
	"go.uber.org/zap"
)

// Page sizes applied to list endpoints when the limit parameter is absent.
// The sample collectors page smaller than the report collectors.
const (
	defaultQueryListLimit  = 50
	defaultErrorListLimit  = 50
	defaultIssueListLimit  = 50
	defaultVitalsListLimit = 100
	defaultEventListLimit  = 100
	defaultImageListLimit  = 100
)

// Collectors bundles the in-memory collectors the server fronts.
type Collectors struct {
	Queries *collector.QueryTracker
	Vitals  *collector.VitalsCollector
	Events  *collector.EventCollector
	Images  *collector.ImageCollector
	Issues  *collector.IssueTracker
}

// OptimizerInterface runs a full optimization pass.
type OptimizerInterface interface {
	RunFull(ctx context.Context) optimize.Report
}

// HealthInterface reports per-component health states.
type HealthInterface interface {
	Health() map[string]string
}

// Server is the API server. Read endpoints degrade to empty-shaped results
// when a collector holds nothing; they never fail for lack of data.
type Server struct {
	logger    *zap.Logger
	c         Collectors
	optimizer OptimizerInterface
	health    HealthInterface
	monitor   config.MonitorConfig
	limiter   *IPRateLimiter
	trace     *telemetry.TraceHelper
	maxBody   int64
	startTime time.Time
	version   string
}

// NewServer creates an API server. optimizer, health, limiter and trace may
// be nil; the corresponding endpoints degrade gracefully.
func NewServer(logger *zap.Logger, collectors Collectors, optimizer OptimizerInterface, health HealthInterface, monitor config.MonitorConfig, limiter *IPRateLimiter, trace *telemetry.TraceHelper, maxBody int64, version string) *Server {
	if maxBody <= 0 {
		maxBody = config.MaxRequestBodySize
	}
	return &Server{
		logger:    logger.Named("api"),
		c:         collectors,
		optimizer: optimizer,
		health:    health,
		monitor:   monitor,
		limiter:   limiter,
		trace:     trace,
		maxBody:   maxBody,
		startTime: time.Now(),
		version:   version,
	}
}

// generateRequestID generates a unique request ID.
func (s *Server) generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, requestID string, details interface{}) {
	response := ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now(),
		Details:   details,
	}
	s.writeJSON(w, status, response)
}

// parseJSON parses a JSON request body. Unknown fields are ignored so newer
// monitor builds can send fields this server does not read yet.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// SetupRoutes registers all API routes on the mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	// Ingestion endpoints, rate limited per client IP
	mux.Handle("/api/v1/vitals", s.limited(http.HandlerFunc(s.HandleVitals)))
	mux.Handle("/api/v1/events", s.limited(http.HandlerFunc(s.HandleEvents)))
	mux.Handle("/api/v1/images", s.limited(http.HandlerFunc(s.HandleImages)))
	mux.Handle("/api/v1/errors", s.limited(http.HandlerFunc(s.HandleErrors)))
	mux.Handle("/api/v1/issues", s.limited(http.HandlerFunc(s.HandleIssues)))

	// Vitals reads and actions
	mux.HandleFunc("/api/v1/vitals/aggregate", s.HandleVitalsAggregate)
	mux.HandleFunc("/api/v1/vitals/budget", s.HandleVitalsBudget)

	// Query tracker
	mux.HandleFunc("/api/v1/queries", s.HandleQueries)
	mux.HandleFunc("/api/v1/queries/stats", s.HandleQueryStats)
	mux.HandleFunc("/api/v1/queries/config", s.HandleQueryConfig)

	// Aggregate reads
	mux.HandleFunc("/api/v1/events/stats", s.HandleEventStats)
	mux.HandleFunc("/api/v1/images/stats", s.HandleImageStats)
	mux.HandleFunc("/api/v1/errors/stats", s.HandleErrorStats)

	// Browser monitor configuration
	mux.HandleFunc("/api/v1/monitor/config", s.HandleMonitorConfig)

	// System endpoints
	mux.HandleFunc("/api/v1/optimize", s.HandleOptimize)
	mux.HandleFunc("/api/v1/status", s.HandleStatus)
	mux.HandleFunc("/api/v1/health", s.HandleHealth)
}

func (s *Server) limited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

// HandleVitalsAggregate handles GET /api/v1/vitals/aggregate.
func (s *Server) HandleVitalsAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, VitalsAggregateResponse{
		Aggregates:   s.aggregateTraced(r),
		TotalReports: s.c.Vitals.Len(),
	})
}

// aggregateTraced runs the vitals aggregation inside a span when tracing is
// wired.
func (s *Server) aggregateTraced(r *http.Request) map[string]collector.VitalAggregate {
	if s.trace == nil {
		return s.c.Vitals.Aggregated()
	}
	var out map[string]collector.VitalAggregate
	_ = s.trace.TraceAggregateFunc(r.Context(), "vitals", func(context.Context) error {
		out = s.c.Vitals.Aggregated()
		return nil
	})
	return out
}

// HandleVitalsBudget handles POST /api/v1/vitals/budget.
func (s *Server) HandleVitalsBudget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	var req BudgetRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, collector.CheckBudget(req.Metrics, req.Budget))
}

// HandleQueries handles GET /api/v1/queries.
func (s *Server) HandleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	query := r.URL.Query()
	opts := collector.MetricsOptions{
		SlowOnly:  query.Get("slow_only") == "true",
		ErrorOnly: query.Get("error_only") == "true",
		Limit:     listLimit(query, defaultQueryListLimit),
	}

	samples := s.c.Queries.Metrics(opts)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": samples,
		"count":   len(samples),
	})
}

// HandleQueryStats handles GET /api/v1/queries/stats.
func (s *Server) HandleQueryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.c.Queries.Stats())
}

// HandleQueryConfig handles POST /api/v1/queries/config.
func (s *Server) HandleQueryConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	var req QueryConfigRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}

	switch req.Action {
	case "clear":
		s.c.Queries.Clear()
	case "configure":
		if req.SlowQueryThresholdMs != nil {
			s.c.Queries.SetSlowThreshold(*req.SlowQueryThresholdMs)
		}
		if req.Enabled != nil {
			s.c.Queries.SetEnabled(*req.Enabled)
		}
	default:
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Unknown action %q", req.Action), s.generateRequestID(),
			"supported actions: clear, configure")
		return
	}

	s.writeJSON(w, http.StatusOK, QueryConfigResponse{
		Action:               req.Action,
		Enabled:              s.c.Queries.Enabled(),
		SlowQueryThresholdMs: s.c.Queries.SlowThreshold(),
	})
}

// HandleEventStats handles GET /api/v1/events/stats.
func (s *Server) HandleEventStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.c.Events.Stats())
}

// HandleImageStats handles GET /api/v1/images/stats.
func (s *Server) HandleImageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.c.Images.Stats())
}

// HandleErrorStats handles GET /api/v1/errors/stats.
func (s *Server) HandleErrorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.c.Issues.ErrorStats())
}

// HandleMonitorConfig handles GET /api/v1/monitor/config.
func (s *Server) HandleMonitorConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, MonitorConfigResponse{
		Enabled:                 s.monitor.Enabled,
		SampleRate:              s.monitor.SampleRate,
		LongTaskThresholdMs:     s.monitor.LongTaskThresholdMs,
		LayoutShiftThreshold:    s.monitor.LayoutShiftThreshold,
		SlowResourceThresholdMs: s.monitor.SlowResourceThresholdMs,
	})
}

// HandleOptimize handles POST /api/v1/optimize.
func (s *Server) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	if s.optimizer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Optimizer not available", s.generateRequestID(), nil)
		return
	}

	report := s.optimizer.RunFull(r.Context())
	s.writeJSON(w, http.StatusOK, report)
}

// HandleStatus handles GET /api/v1/status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	status := "healthy"
	if s.health != nil {
		for _, state := range s.health.Health() {
			if state != config.HealthStateHealthy {
				status = config.HealthStateUnhealthy
				break
			}
		}
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Version: s.version,
		Status:  status,
		Uptime:  time.Since(s.startTime).String(),
		Collectors: CollectorsStatus{
			VitalsReports: s.c.Vitals.Len(),
			Events:        s.c.Events.Len(),
		},
		Queries:    s.c.Queries.Stats(),
		Errors:     s.c.Issues.ErrorStats(),
		Images:     s.c.Images.Stats(),
		LastUpdate: time.Now(),
	})
}

// HandleHealth handles GET /api/v1/health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	components := map[string]string{"api": config.HealthStateHealthy}
	if s.health != nil {
		components = s.health.Health()
	}

	status := config.HealthStateHealthy
	httpStatus := http.StatusOK
	for _, state := range components {
		if state != config.HealthStateHealthy {
			status = config.HealthStateUnhealthy
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	s.writeJSON(w, httpStatus, HealthResponse{
		Status:     status,
		Components: components,
		Timestamp:  time.Now(),
	})
}

// parseIntParam parses an integer parameter from a string.
func parseIntParam(value string) (int, error) {
	return strconv.Atoi(value)
}

// listLimit resolves the limit query parameter, falling back to def when it
// is absent or not a positive integer.
func listLimit(query url.Values, def int) int {
	if l, err := parseIntParam(query.Get("limit")); err == nil && l > 0 {
		return l
	}
	return def
}
