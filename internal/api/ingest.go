package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"go.uber.org/zap"
)

// ingestTimestamp resolves an optional client-supplied millisecond timestamp.
func ingestTimestamp(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// HandleVitals handles /api/v1/vitals: POST ingests a page-load report, GET
// lists recent reports.
func (s *Server) HandleVitals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestVitals(w, r)
	case http.MethodGet:
		s.listVitals(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	}
}

func (s *Server) ingestVitals(w http.ResponseWriter, r *http.Request) {
	var req VitalsIngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required", s.generateRequestID(), nil)
		return
	}
	if len(req.Metrics) == 0 {
		s.writeError(w, http.StatusBadRequest, "metrics must not be empty", s.generateRequestID(), nil)
		return
	}
	for _, m := range req.Metrics {
		if m.Rating != "" && !collector.ValidVitalRating(m.Rating) {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unknown rating %q for metric %s", m.Rating, m.Name), s.generateRequestID(),
				"supported ratings: good, needs-improvement, poor")
			return
		}
	}

	report := collector.VitalsReport{
		URL:            req.URL,
		Timestamp:      ingestTimestamp(req.TimestampMs),
		Metrics:        req.Metrics,
		UserAgent:      req.UserAgent,
		ConnectionType: req.ConnectionType,
	}

	s.recordTraced(r, "vitals", len(req.Metrics), func() {
		s.c.Vitals.Record(report)
	})
	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (s *Server) listVitals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	reports := s.c.Vitals.Reports(query.Get("url"), listLimit(query, defaultVitalsListLimit))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// HandleEvents handles /api/v1/events: POST ingests one performance event,
// GET lists recent events.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestEvent(w, r)
	case http.MethodGet:
		s.listEvents(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	}
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req EventIngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}

	event, err := decodeEvent(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), s.generateRequestID(), nil)
		return
	}

	s.recordTraced(r, string(event.Kind()), 1, func() {
		s.c.Events.Record(event)
	})
	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

// decodeEvent maps a request onto the matching event variant. The kind switch
// is the single place the wire format meets the tagged types.
func decodeEvent(req EventIngestRequest) (collector.PerfEvent, error) {
	ts := ingestTimestamp(req.TimestampMs)
	if ts.IsZero() {
		ts = time.Now()
	}

	switch collector.EventKind(req.Kind) {
	case collector.KindLongTask:
		return collector.LongTask{DurationMs: req.DurationMs, URL: req.URL, Timestamp: ts}, nil
	case collector.KindLayoutShift:
		return collector.LayoutShift{Value: req.Value, URL: req.URL, Timestamp: ts}, nil
	case collector.KindSlowResource:
		if req.Name == "" {
			return nil, fmt.Errorf("name is required for %s events", collector.KindSlowResource)
		}
		return collector.SlowResource{Name: req.Name, DurationMs: req.DurationMs, URL: req.URL, Timestamp: ts}, nil
	case collector.KindCustomTimer:
		if req.Name == "" {
			return nil, fmt.Errorf("name is required for %s events", collector.KindCustomTimer)
		}
		return collector.CustomTimer{Name: req.Name, DurationMs: req.DurationMs, URL: req.URL, Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", req.Kind)
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	events := s.c.Events.Events(collector.EventKind(query.Get("kind")), listLimit(query, defaultEventListLimit))
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"kind":      e.Kind(),
			"magnitude": e.Magnitude(),
			"url":       e.PageURL(),
			"timestamp": e.OccurredAt(),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"count":  len(out),
	})
}

// HandleImages handles /api/v1/images: POST ingests an image load sample,
// GET lists recent samples.
func (s *Server) HandleImages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestImage(w, r)
	case http.MethodGet:
		s.listImages(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	}
}

func (s *Server) ingestImage(w http.ResponseWriter, r *http.Request) {
	var req ImageIngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}
	if req.Src == "" {
		s.writeError(w, http.StatusBadRequest, "src is required", s.generateRequestID(), nil)
		return
	}
	if req.LoadTimeMs < 0 || req.SizeBytes < 0 {
		s.writeError(w, http.StatusBadRequest, "load_time_ms and size_bytes must not be negative", s.generateRequestID(), nil)
		return
	}

	metric := collector.ImageLoadMetric{
		Src:        req.Src,
		LoadTimeMs: req.LoadTimeMs,
		SizeBytes:  req.SizeBytes,
		Format:     req.Format,
		Dimensions: collector.ImageDimensions{Width: req.Width, Height: req.Height},
		Timestamp:  ingestTimestamp(req.TimestampMs),
	}

	s.recordTraced(r, "image", 1, func() {
		s.c.Images.Record(metric)
	})
	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	metrics := s.c.Images.Metrics(listLimit(r.URL.Query(), defaultImageListLimit))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"images": metrics,
		"count":  len(metrics),
	})
}

// HandleErrors handles /api/v1/errors: POST ingests an error report, GET
// lists reports filtered by level and fingerprint.
func (s *Server) HandleErrors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestError(w, r)
	case http.MethodGet:
		s.listErrors(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	}
}

func (s *Server) ingestError(w http.ResponseWriter, r *http.Request) {
	var req ErrorIngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required", s.generateRequestID(), nil)
		return
	}
	if req.Level != "" && !collector.ValidErrorLevel(collector.ErrorLevel(req.Level)) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown level %q", req.Level), s.generateRequestID(),
			"supported levels: error, warning, info")
		return
	}

	report := collector.ErrorReport{
		Message:   req.Message,
		Stack:     req.Stack,
		URL:       req.URL,
		UserAgent: req.UserAgent,
		UserID:    req.UserID,
		Level:     collector.ErrorLevel(req.Level),
		Context:   req.Context,
		Timestamp: ingestTimestamp(req.TimestampMs),
	}

	var stored collector.ErrorReport
	s.recordTraced(r, "error", 1, func() {
		stored = s.c.Issues.CaptureReport(report)
	})

	s.logger.Debug("Error report ingested",
		zap.String("fingerprint", stored.Fingerprint),
		zap.String("level", string(stored.Level)))
	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := collector.ErrorFilter{
		Level:       collector.ErrorLevel(query.Get("level")),
		Fingerprint: query.Get("fingerprint"),
		Limit:       listLimit(query, defaultErrorListLimit),
	}

	reports := s.c.Issues.Errors(filter)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": reports,
		"count":  len(reports),
	})
}

// HandleIssues handles /api/v1/issues: POST ingests a performance issue, GET
// lists issues filtered by type and severity.
func (s *Server) HandleIssues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestIssue(w, r)
	case http.MethodGet:
		s.listIssues(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
	}
}

func (s *Server) ingestIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueIngestRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", s.generateRequestID(), err.Error())
		return
	}
	if !collector.ValidIssueType(collector.IssueType(req.Type)) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown issue type %q", req.Type), s.generateRequestID(),
			"supported types: slow-query, memory-leak, high-cpu, large-bundle")
		return
	}
	if !collector.ValidIssueSeverity(collector.IssueSeverity(req.Severity)) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown severity %q", req.Severity), s.generateRequestID(),
			"supported severities: low, medium, high, critical")
		return
	}

	issue := collector.PerformanceIssue{
		Type:        collector.IssueType(req.Type),
		Severity:    collector.IssueSeverity(req.Severity),
		Description: req.Description,
		Metrics:     req.Metrics,
		URL:         req.URL,
		Timestamp:   ingestTimestamp(req.TimestampMs),
	}

	s.recordTraced(r, "issue", 1, func() {
		s.c.Issues.CapturePerformanceIssue(issue)
	})
	s.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := collector.IssueFilter{
		Type:     collector.IssueType(query.Get("type")),
		Severity: collector.IssueSeverity(query.Get("severity")),
		Limit:    listLimit(query, defaultIssueListLimit),
	}

	issues := s.c.Issues.PerformanceIssues(filter)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

// recordTraced runs an ingestion write inside a span when tracing is wired.
func (s *Server) recordTraced(r *http.Request, kind string, count int, record func()) {
	if s.trace == nil {
		record()
		return
	}
	_ = s.trace.TraceIngestFunc(r.Context(), kind, count, func(ctx context.Context) error {
		record()
		return nil
	})
}
