package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/buffer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultErrorCapacity bounds the error report buffer.
	DefaultErrorCapacity = 100

	// DefaultIssueCapacity bounds the performance issue buffer.
	DefaultIssueCapacity = 50

	// RecentErrorWindow is the trailing window counted by ErrorStats.
	RecentErrorWindow = time.Hour
)

// ErrorLevel is the severity of an error report.
type ErrorLevel string

const (
	LevelError   ErrorLevel = "error"
	LevelWarning ErrorLevel = "warning"
	LevelInfo    ErrorLevel = "info"
)

// ValidErrorLevel reports whether level is one of the accepted variants.
func ValidErrorLevel(level ErrorLevel) bool {
	switch level {
	case LevelError, LevelWarning, LevelInfo:
		return true
	}
	return false
}

// ErrorReport is one structured client error.
type ErrorReport struct {
	ID          string         `json:"id"`
	Message     string         `json:"message"`
	Stack       string         `json:"stack,omitempty"`
	URL         string         `json:"url,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	UserID      string         `json:"user_id,omitempty"`
	Level       ErrorLevel     `json:"level"`
	Context     map[string]any `json:"context,omitempty"`
	Fingerprint string         `json:"fingerprint"`
}

// IssueType classifies a performance issue.
type IssueType string

const (
	IssueSlowQuery   IssueType = "slow-query"
	IssueMemoryLeak  IssueType = "memory-leak"
	IssueHighCPU     IssueType = "high-cpu"
	IssueLargeBundle IssueType = "large-bundle"
)

// ValidIssueType reports whether t is one of the accepted variants.
func ValidIssueType(t IssueType) bool {
	switch t {
	case IssueSlowQuery, IssueMemoryLeak, IssueHighCPU, IssueLargeBundle:
		return true
	}
	return false
}

// IssueSeverity grades a performance issue.
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// ValidIssueSeverity reports whether s is one of the accepted variants.
func ValidIssueSeverity(s IssueSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// PerformanceIssue is a detected or reported performance problem.
type PerformanceIssue struct {
	Type        IssueType          `json:"type"`
	Severity    IssueSeverity      `json:"severity"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	URL         string             `json:"url,omitempty"`
}

// ErrorFilter narrows an error read.
type ErrorFilter struct {
	Level       ErrorLevel
	Fingerprint string
	Limit       int
}

// IssueFilter narrows a performance issue read.
type IssueFilter struct {
	Type     IssueType
	Severity IssueSeverity
	Limit    int
}

// ErrorStats summarizes the error buffer at call time.
type ErrorStats struct {
	TotalErrors         int            `json:"total_errors"`
	ErrorsByLevel       map[string]int `json:"errors_by_level"`
	ErrorsByFingerprint map[string]int `json:"errors_by_fingerprint"`
	RecentErrors        int            `json:"recent_errors"`
}

// CaptureOptions carries the optional fields of CaptureError.
type CaptureOptions struct {
	Stack   string
	URL     string
	Level   ErrorLevel
	Context map[string]any
	UserID  string
}

// IssueTracker groups recurring errors by content fingerprint and keeps a
// separate bounded buffer of performance issues. Capturing never fails; the
// tracker is diagnostic infrastructure and must not become an outage source.
type IssueTracker struct {
	logger *zap.Logger
	errors *buffer.Ring[ErrorReport]
	issues *buffer.Ring[PerformanceIssue]
	now    func() time.Time
}

// NewIssueTracker creates an error/issue tracker with the given buffer
// capacities; non-positive values select the defaults.
func NewIssueTracker(errorCapacity, issueCapacity int, logger *zap.Logger) *IssueTracker {
	if errorCapacity <= 0 {
		errorCapacity = DefaultErrorCapacity
	}
	if issueCapacity <= 0 {
		issueCapacity = DefaultIssueCapacity
	}
	return &IssueTracker{
		logger: logger,
		errors: buffer.New[ErrorReport](errorCapacity),
		issues: buffer.New[PerformanceIssue](issueCapacity),
		now:    time.Now,
	}
}

// CaptureError records a structured error report. It assigns the id,
// timestamp and content fingerprint, and never panics or returns an error.
func (t *IssueTracker) CaptureError(message string, opts CaptureOptions) ErrorReport {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Error capture failed", zap.Any("panic", r))
		}
	}()

	level := opts.Level
	if !ValidErrorLevel(level) {
		level = LevelError
	}

	report := ErrorReport{
		ID:          uuid.NewString(),
		Message:     message,
		Stack:       opts.Stack,
		URL:         opts.URL,
		Timestamp:   t.now(),
		UserID:      opts.UserID,
		Level:       level,
		Context:     opts.Context,
		Fingerprint: Fingerprint(message, opts.Stack),
	}
	t.errors.Append(report)

	return report
}

// CaptureReport stores an already-assembled report, filling in any missing
// id, timestamp or fingerprint. Used by the ingestion endpoint.
func (t *IssueTracker) CaptureReport(report ErrorReport) ErrorReport {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = t.now()
	}
	if !ValidErrorLevel(report.Level) {
		report.Level = LevelError
	}
	if report.Fingerprint == "" {
		report.Fingerprint = Fingerprint(report.Message, report.Stack)
	}
	t.errors.Append(report)
	return report
}

// CapturePerformanceIssue records a performance issue. Critical issues are
// logged at error level immediately.
func (t *IssueTracker) CapturePerformanceIssue(issue PerformanceIssue) {
	if issue.Timestamp.IsZero() {
		issue.Timestamp = t.now()
	}
	t.issues.Append(issue)

	if issue.Severity == SeverityCritical {
		t.logger.Error("Critical performance issue",
			zap.String("type", string(issue.Type)),
			zap.String("description", issue.Description),
			zap.String("url", issue.URL))
	}
}

// Errors returns error reports newest-first after applying the filter.
func (t *IssueTracker) Errors(filter ErrorFilter) []ErrorReport {
	var pred func(ErrorReport) bool
	if filter.Level != "" || filter.Fingerprint != "" {
		pred = func(r ErrorReport) bool {
			if filter.Level != "" && r.Level != filter.Level {
				return false
			}
			if filter.Fingerprint != "" && r.Fingerprint != filter.Fingerprint {
				return false
			}
			return true
		}
	}
	return t.errors.Snapshot(pred, filter.Limit)
}

// PerformanceIssues returns issues newest-first after applying the filter.
func (t *IssueTracker) PerformanceIssues(filter IssueFilter) []PerformanceIssue {
	var pred func(PerformanceIssue) bool
	if filter.Type != "" || filter.Severity != "" {
		pred = func(i PerformanceIssue) bool {
			if filter.Type != "" && i.Type != filter.Type {
				return false
			}
			if filter.Severity != "" && i.Severity != filter.Severity {
				return false
			}
			return true
		}
	}
	return t.issues.Snapshot(pred, filter.Limit)
}

// ErrorStats aggregates the error buffer. RecentErrors counts reports with
// timestamps inside the trailing one-hour window of the call.
func (t *IssueTracker) ErrorStats() ErrorStats {
	reports := t.errors.All()
	cutoff := t.now().Add(-RecentErrorWindow)

	st := ErrorStats{
		TotalErrors:         len(reports),
		ErrorsByLevel:       make(map[string]int),
		ErrorsByFingerprint: make(map[string]int),
	}
	for _, r := range reports {
		st.ErrorsByLevel[string(r.Level)]++
		st.ErrorsByFingerprint[r.Fingerprint]++
		if r.Timestamp.After(cutoff) {
			st.RecentErrors++
		}
	}
	return st
}

// Clear empties both the error and the issue buffer.
func (t *IssueTracker) Clear() {
	t.errors.Clear()
	t.issues.Clear()
}

// Fingerprint derives the short grouping key for an error: a hash of the
// first stack-trace line, or of the message when no stack is present.
func Fingerprint(message, stack string) string {
	source := message
	if stack != "" {
		if idx := strings.IndexByte(stack, '\n'); idx >= 0 {
			source = stack[:idx]
		} else {
			source = stack
		}
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(source)))
	return hex.EncodeToString(sum[:8])
}
