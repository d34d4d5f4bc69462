package config

import (
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
)

// Application constants for configuration and resource management
const (
	// Collector buffer defaults, shared with the collector package
	DefaultQueryCapacity        = collector.DefaultQueryCapacity
	DefaultVitalsCapacity       = collector.DefaultVitalsCapacity
	DefaultEventCapacity        = collector.DefaultEventCapacity
	DefaultImageCapacity        = collector.DefaultImageCapacity
	DefaultErrorCapacity        = collector.DefaultErrorCapacity
	DefaultIssueCapacity        = collector.DefaultIssueCapacity
	DefaultSlowQueryThresholdMs = collector.DefaultSlowQueryThresholdMs

	// MaxCollectorCapacity is a soft ceiling; larger buffers only warn.
	MaxCollectorCapacity = 100_000

	// Browser monitor emission thresholds. Lower than the collectors'
	// logging thresholds: clients report more than the server flags.
	DefaultMonitorSampleRate     = 1.0
	DefaultMonitorLongTaskMs     = 50.0
	DefaultMonitorLayoutShift    = 0.1
	DefaultMonitorSlowResourceMs = 2000.0

	// Configuration Defaults
	DefaultConfigPath   = "configs/example.yaml"
	DefaultServiceName  = "telemetry-manager"
	DefaultSamplingRate = 0.1 // 10% of traces

	// API Constants
	APIVersion         = "v1"
	DefaultAPIBasePath = "/api/v1"
	DefaultAPITimeout  = 30 * time.Second
	MaxRequestBodySize = 1 << 20 // 1MB maximum request body size

	// Rate Limiting
	DefaultIngestRatePerSecond = 50.0
	DefaultIngestBurst         = 100

	// Timeouts and Delays
	DefaultShutdownTimeout = 5 * time.Second
)

// Environment-specific constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Telemetry exporter types
const (
	ExporterTypeStdout = "stdout"
	ExporterTypeOTLP   = "otlp"
)

// Health states
const (
	HealthStateHealthy   = "healthy"
	HealthStateUnhealthy = "unhealthy"
	HealthStateUnknown   = "unknown"
	HealthStateStopping  = "stopping"
)
