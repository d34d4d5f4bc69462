// Package config loads, defaults and validates the service configuration.
// A missing config file is not an error: LoadDefault produces a fully
// validated zero-config setup.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Oualidl290/new-andalus-telemetry/internal/cache"
	"github.com/Oualidl290/new-andalus-telemetry/internal/storage"
	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Cache      cache.Config     `yaml:"cache"`
	Database   storage.Config   `yaml:"database"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	BindAddress string    `yaml:"bind_address"`
	MetricsPath string    `yaml:"metrics_path"`
	HealthPath  string    `yaml:"health_path"`
	API         APIConfig `yaml:"api"`
}

// APIConfig contains REST API settings.
type APIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BasePath     string `yaml:"base_path"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// CollectorsConfig sizes and tunes the in-memory collectors.
type CollectorsConfig struct {
	Queries QueriesConfig `yaml:"queries"`
	Vitals  VitalsConfig  `yaml:"vitals"`
	Events  EventsConfig  `yaml:"events"`
	Images  ImagesConfig  `yaml:"images"`
	Errors  ErrorsConfig  `yaml:"errors"`
}

// QueriesConfig tunes the query timing collector.
type QueriesConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Capacity        int     `yaml:"capacity"`
	SlowThresholdMs float64 `yaml:"slow_threshold_ms"`
}

// VitalsConfig tunes the web-vitals collector.
type VitalsConfig struct {
	Capacity int `yaml:"capacity"`
}

// EventsConfig tunes the resource/task event collector.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// ImagesConfig tunes the image load collector.
type ImagesConfig struct {
	Capacity int `yaml:"capacity"`
}

// ErrorsConfig tunes the error/issue tracker.
type ErrorsConfig struct {
	ErrorCapacity int `yaml:"error_capacity"`
	IssueCapacity int `yaml:"issue_capacity"`
}

// MonitorConfig is the configuration served to the browser-side monitor.
// Its emission thresholds are deliberately lower than the collectors'
// logging thresholds: the client reports more than the server flags.
type MonitorConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	SampleRate              float64 `yaml:"sample_rate"`
	LongTaskThresholdMs     float64 `yaml:"long_task_threshold_ms"`
	LayoutShiftThreshold    float64 `yaml:"layout_shift_threshold"`
	SlowResourceThresholdMs float64 `yaml:"slow_resource_threshold_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
	Structured bool   `yaml:"structured"`
}

// RateLimitConfig throttles ingestion requests per client IP.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoadDefault builds a validated zero-config setup.
func LoadDefault() (*Config, error) {
	var config Config
	applyEnabledDefaults(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}
	return &config, nil
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	applyEnabledDefaults(&config)
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// applyEnabledDefaults turns the opt-out subsystems on. It runs before the
// config file is decoded over the struct: decoding leaves fields absent from
// the file untouched, so an omitted enabled key defaults to true while an
// explicit enabled: false survives.
func applyEnabledDefaults(cfg *Config) {
	cfg.Server.API.Enabled = true
	cfg.Collectors.Queries.Enabled = true
	cfg.Monitor.Enabled = true
	cfg.RateLimit.Enabled = true
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = "0.0.0.0:9090"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = "/health"
	}
	if cfg.Server.API.BasePath == "" {
		cfg.Server.API.BasePath = DefaultAPIBasePath
	}
	if cfg.Server.API.MaxBodyBytes == 0 {
		cfg.Server.API.MaxBodyBytes = MaxRequestBodySize
	}

	// Collector buffers
	if cfg.Collectors.Queries.Capacity == 0 {
		cfg.Collectors.Queries.Capacity = DefaultQueryCapacity
	}
	if cfg.Collectors.Queries.SlowThresholdMs == 0 {
		cfg.Collectors.Queries.SlowThresholdMs = DefaultSlowQueryThresholdMs
	}
	if cfg.Collectors.Vitals.Capacity == 0 {
		cfg.Collectors.Vitals.Capacity = DefaultVitalsCapacity
	}
	if cfg.Collectors.Events.Capacity == 0 {
		cfg.Collectors.Events.Capacity = DefaultEventCapacity
	}
	if cfg.Collectors.Images.Capacity == 0 {
		cfg.Collectors.Images.Capacity = DefaultImageCapacity
	}
	if cfg.Collectors.Errors.ErrorCapacity == 0 {
		cfg.Collectors.Errors.ErrorCapacity = DefaultErrorCapacity
	}
	if cfg.Collectors.Errors.IssueCapacity == 0 {
		cfg.Collectors.Errors.IssueCapacity = DefaultIssueCapacity
	}

	// Browser monitor emission thresholds
	if cfg.Monitor.SampleRate == 0 {
		cfg.Monitor.SampleRate = DefaultMonitorSampleRate
	}
	if cfg.Monitor.LongTaskThresholdMs == 0 {
		cfg.Monitor.LongTaskThresholdMs = DefaultMonitorLongTaskMs
	}
	if cfg.Monitor.LayoutShiftThreshold == 0 {
		cfg.Monitor.LayoutShiftThreshold = DefaultMonitorLayoutShift
	}
	if cfg.Monitor.SlowResourceThresholdMs == 0 {
		cfg.Monitor.SlowResourceThresholdMs = DefaultMonitorSlowResourceMs
	}

	if cfg.Cache.MaxCostBytes == 0 {
		cfg.Cache.MaxCostBytes = cache.DefaultMaxCostBytes
	}
	if cfg.Cache.NumCounters == 0 {
		cfg.Cache.NumCounters = cache.DefaultNumCounters
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.OutputPath == "" {
		cfg.Logging.OutputPath = "stdout"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "dev"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = EnvDevelopment
	}
	if cfg.Telemetry.Exporter.Type == "" {
		cfg.Telemetry.Exporter.Type = ExporterTypeStdout
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = DefaultSamplingRate
	}

	// Rate limiting defaults
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = DefaultIngestRatePerSecond
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultIngestBurst
	}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field      string      // Configuration field path (e.g., "collectors.queries.capacity")
	Value      interface{} // Invalid value
	Message    string      // Human-readable error message
	Suggestion string      // Suggested fix
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// Error implements the error interface for ValidationResult.
func (vr *ValidationResult) Error() string {
	if len(vr.Errors) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(vr.Errors)))
	for i, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s", i+1, err.Field, err.Message))
		if err.Suggestion != "" {
			sb.WriteString(fmt.Sprintf(" (suggestion: %s)", err.Suggestion))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// GetValidationResult runs full validation and returns the detailed result,
// including warnings. Used by the validate CLI command.
func GetValidationResult(cfg *Config) *ValidationResult {
	return validateConfiguration(cfg)
}

// validate checks the configuration for required fields and consistency.
func validate(cfg *Config) error {
	result := validateConfiguration(cfg)
	if !result.Valid {
		return result
	}
	return nil
}

// validateConfiguration performs full validation and returns detailed results.
func validateConfiguration(cfg *Config) *ValidationResult {
	result := &ValidationResult{Valid: true}

	validateServerConfig(&cfg.Server, result)
	validateCollectorsConfig(&cfg.Collectors, result)
	validateMonitorConfig(&cfg.Monitor, result)
	validateCacheConfig(&cfg.Cache, result)
	validateDatabaseConfig(&cfg.Database, result)
	validateLoggingConfig(&cfg.Logging, result)
	validateTelemetryConfig(&cfg.Telemetry, result)
	validateRateLimitConfig(&cfg.RateLimit, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func validateServerConfig(cfg *ServerConfig, result *ValidationResult) {
	if err := validateNetworkAddress(cfg.BindAddress); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "server.bind_address",
			Value:      cfg.BindAddress,
			Message:    err.Error(),
			Suggestion: "use host:port, e.g. 0.0.0.0:9090",
		})
	}
	for _, p := range []struct {
		field string
		value string
	}{
		{"server.metrics_path", cfg.MetricsPath},
		{"server.health_path", cfg.HealthPath},
		{"server.api.base_path", cfg.API.BasePath},
	} {
		if !strings.HasPrefix(p.value, "/") {
			result.Errors = append(result.Errors, ValidationError{
				Field:      p.field,
				Value:      p.value,
				Message:    "path must start with /",
				Suggestion: "prefix the path with /",
			})
		}
	}
	if cfg.API.MaxBodyBytes < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.api.max_body_bytes",
			Value:   cfg.API.MaxBodyBytes,
			Message: "must not be negative",
		})
	}
}

func validateCollectorsConfig(cfg *CollectorsConfig, result *ValidationResult) {
	for _, c := range []struct {
		field string
		value int
	}{
		{"collectors.queries.capacity", cfg.Queries.Capacity},
		{"collectors.vitals.capacity", cfg.Vitals.Capacity},
		{"collectors.events.capacity", cfg.Events.Capacity},
		{"collectors.images.capacity", cfg.Images.Capacity},
		{"collectors.errors.error_capacity", cfg.Errors.ErrorCapacity},
		{"collectors.errors.issue_capacity", cfg.Errors.IssueCapacity},
	} {
		if c.value < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:      c.field,
				Value:      c.value,
				Message:    "capacity must not be negative",
				Suggestion: "omit the field to use the default",
			})
		}
		if c.value > MaxCollectorCapacity {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:      c.field,
				Value:      c.value,
				Message:    fmt.Sprintf("capacity above %d holds considerable memory", MaxCollectorCapacity),
				Suggestion: "consider a smaller buffer",
			})
		}
	}
	if cfg.Queries.SlowThresholdMs < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "collectors.queries.slow_threshold_ms",
			Value:   cfg.Queries.SlowThresholdMs,
			Message: "threshold must not be negative",
		})
	}
}

func validateMonitorConfig(cfg *MonitorConfig, result *ValidationResult) {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:      "monitor.sample_rate",
			Value:      cfg.SampleRate,
			Message:    "sample rate must be between 0.0 and 1.0",
			Suggestion: "use 1.0 to sample every page load",
		})
	}
	for _, c := range []struct {
		field string
		value float64
	}{
		{"monitor.long_task_threshold_ms", cfg.LongTaskThresholdMs},
		{"monitor.layout_shift_threshold", cfg.LayoutShiftThreshold},
		{"monitor.slow_resource_threshold_ms", cfg.SlowResourceThresholdMs},
	} {
		if c.value < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   c.field,
				Value:   c.value,
				Message: "threshold must not be negative",
			})
		}
	}
}

func validateCacheConfig(cfg *cache.Config, result *ValidationResult) {
	if cfg.MaxCostBytes < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.max_cost_bytes",
			Value:   cfg.MaxCostBytes,
			Message: "must not be negative",
		})
	}
	if cfg.NumCounters < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "cache.num_counters",
			Value:   cfg.NumCounters,
			Message: "must not be negative",
		})
	}
}

func validateDatabaseConfig(cfg *storage.Config, result *ValidationResult) {
	// The content database is optional; the optimizer degrades without it.
	if cfg.DatabasePath == "" || cfg.DatabasePath == ":memory:" {
		return
	}
	dir := filepath.Dir(cfg.DatabasePath)
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.database_path",
			Value:   cfg.DatabasePath,
			Message: fmt.Sprintf("parent %q is not a directory", dir),
		})
	}
}

func validateLoggingConfig(cfg *LoggingConfig, result *ValidationResult) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:      "logging.level",
			Value:      cfg.Level,
			Message:    "unknown log level",
			Suggestion: "use one of: debug, info, warn, error",
		})
	}
	switch cfg.Format {
	case "json", "console":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:      "logging.format",
			Value:      cfg.Format,
			Message:    "unknown log format",
			Suggestion: "use json or console",
		})
	}
}

func validateTelemetryConfig(cfg *telemetry.Config, result *ValidationResult) {
	if !cfg.Enabled {
		return
	}
	switch cfg.Exporter.Type {
	case ExporterTypeStdout:
	case ExporterTypeOTLP:
		if cfg.Exporter.Endpoint == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:      "telemetry.exporter.endpoint",
				Value:      "",
				Message:    "endpoint is required for the otlp exporter",
				Suggestion: "set the OTLP collector address, e.g. localhost:4318",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:      "telemetry.exporter.type",
			Value:      cfg.Exporter.Type,
			Message:    "unsupported exporter type",
			Suggestion: "use stdout or otlp",
		})
	}
	if cfg.Sampling.Rate < 0 || cfg.Sampling.Rate > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "telemetry.sampling.rate",
			Value:   cfg.Sampling.Rate,
			Message: "sampling rate must be between 0.0 and 1.0",
		})
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		result.Warnings = append(result.Warnings, ValidationError{
			Field:      "telemetry.environment",
			Value:      cfg.Environment,
			Message:    "non-standard environment name",
			Suggestion: "use development, staging or production",
		})
	}
}

func validateRateLimitConfig(cfg *RateLimitConfig, result *ValidationResult) {
	if !cfg.Enabled {
		return
	}
	if cfg.RequestsPerSecond <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "rate_limit.requests_per_second",
			Value:   cfg.RequestsPerSecond,
			Message: "must be positive when rate limiting is enabled",
		})
	}
	if cfg.Burst <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "rate_limit.burst",
			Value:   cfg.Burst,
			Message: "must be positive when rate limiting is enabled",
		})
	}
}

func validateNetworkAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	if host != "" && host != "0.0.0.0" && net.ParseIP(host) == nil {
		if !isValidHostname(host) {
			return fmt.Errorf("invalid host %q", host)
		}
	}
	return nil
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !(r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}
