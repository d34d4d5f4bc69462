package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestNewService(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{
			name:      "tracing disabled",
			config:    Config{Enabled: false},
			wantError: false,
		},
		{
			name: "stdout exporter",
			config: Config{
				Enabled:        true,
				ServiceName:    "perf-aggregator",
				ServiceVersion: "1.0.0",
				Environment:    "test",
				Exporter:       ExporterConfig{Type: "stdout"},
				Sampling:       SamplingConfig{Rate: 0.5},
			},
			wantError: false,
		},
		{
			name: "otlp exporter without endpoint",
			config: Config{
				Enabled:     true,
				ServiceName: "perf-aggregator",
				Exporter:    ExporterConfig{Type: "otlp"},
			},
			wantError: true,
		},
		{
			name: "unsupported exporter type",
			config: Config{
				Enabled:     true,
				ServiceName: "perf-aggregator",
				Exporter:    ExporterConfig{Type: "jaeger"},
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewService(tt.config, logger)

			if tt.wantError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if service == nil {
				t.Fatal("expected service but got nil")
			}
			if got := service.IsEnabled(); got != tt.config.Enabled {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.config.Enabled)
			}
			if service.Tracer() == nil {
				t.Error("Tracer() returned nil")
			}
		})
	}
}

func TestServiceStartStop(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "disabled service",
			config: Config{Enabled: false},
		},
		{
			name: "enabled service",
			config: Config{
				Enabled:        true,
				ServiceName:    "perf-aggregator",
				ServiceVersion: "1.0.0",
				Environment:    "test",
				Exporter:       ExporterConfig{Type: "stdout"},
				Sampling:       SamplingConfig{Rate: 1.0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewService(tt.config, logger)
			if err != nil {
				t.Fatalf("failed to create service: %v", err)
			}

			ctx := context.Background()
			if err := service.Start(ctx); err != nil {
				t.Errorf("Start() error: %v", err)
			}
			if err := service.Stop(ctx); err != nil {
				t.Errorf("Stop() error: %v", err)
			}
		})
	}
}
