package app

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Oualidl290/new-andalus-telemetry/internal/api"
	"github.com/Oualidl290/new-andalus-telemetry/internal/cache"
	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"github.com/Oualidl290/new-andalus-telemetry/internal/optimize"
	"github.com/Oualidl290/new-andalus-telemetry/internal/prometheus"
	"github.com/Oualidl290/new-andalus-telemetry/internal/stats"
	"github.com/Oualidl290/new-andalus-telemetry/internal/storage"
	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

const (
	// How often the vitals aggregates are checked for budget breaches.
	thresholdCheckInterval = time.Minute
	// Persisted operational events older than this are pruned.
	eventRetention     = 7 * 24 * time.Hour
	eventPruneInterval = time.Hour
)

// Manager wires the collectors, cache, content database, telemetry and the
// HTTP surface together and runs them as one unit.
type Manager struct {
	config     *config.Config
	logger     *zap.Logger
	configPath string
	version    string

	queries *collector.QueryTracker
	vitals  *collector.VitalsCollector
	events  *collector.EventCollector
	images  *collector.ImageCollector
	issues  *collector.IssueTracker

	pageCache  *cache.PageCache
	contentDB  *storage.ContentDB // nil when no content database is configured
	eventStore *storage.EventStore

	telemetryService *telemetry.Service
	eventEmitter     *telemetry.EventEmitter
	limiter          *api.IPRateLimiter
	orchestrator     *optimize.Orchestrator
	apiServer        *api.Server
	exporter         *prometheus.Exporter

	// Reported ratings per vital, to emit breach events only on transition.
	breached map[string]bool
	// Last observed component health, to emit change events only on
	// transition.
	healthStates map[string]string

	mu         sync.RWMutex
	running    bool
	startTime  time.Time
	lastReload time.Time
}

// NewManager builds all components from configuration. configPath is kept
// for SIGHUP reloads; it may be empty when the config came from defaults.
func NewManager(cfg *config.Config, configPath, version string, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	queries := collector.NewQueryTracker(collector.QueryTrackerConfig{
		Enabled:         cfg.Collectors.Queries.Enabled,
		Capacity:        cfg.Collectors.Queries.Capacity,
		SlowThresholdMs: cfg.Collectors.Queries.SlowThresholdMs,
	}, logger.Named("queries"))
	vitals := collector.NewVitalsCollector(cfg.Collectors.Vitals.Capacity, logger.Named("vitals"))
	events := collector.NewEventCollector(cfg.Collectors.Events.Capacity, logger.Named("events"))
	images := collector.NewImageCollector(cfg.Collectors.Images.Capacity, logger.Named("images"))
	issues := collector.NewIssueTracker(cfg.Collectors.Errors.ErrorCapacity,
		cfg.Collectors.Errors.IssueCapacity, logger.Named("issues"))

	pageCache, err := cache.New(cfg.Cache, logger.Named("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}

	var contentDB *storage.ContentDB
	if cfg.Database.DatabasePath != "" {
		contentDB, err = storage.Open(cfg.Database, logger.Named("storage"))
		if err != nil {
			pageCache.Close()
			return nil, fmt.Errorf("failed to open content database: %w", err)
		}
	}

	telemetryService, err := telemetry.NewService(cfg.Telemetry, logger.Named("telemetry"))
	if err != nil {
		pageCache.Close()
		if contentDB != nil {
			contentDB.Close()
		}
		return nil, fmt.Errorf("failed to create telemetry service: %w", err)
	}

	var eventStore *storage.EventStore
	var eventStorage telemetry.EventStorage
	if contentDB != nil {
		eventStore, err = storage.NewEventStore(contentDB.DB(), logger.Named("eventstore"))
		if err != nil {
			pageCache.Close()
			contentDB.Close()
			return nil, fmt.Errorf("failed to create event store: %w", err)
		}
		eventStorage = eventStore
	}
	eventEmitter := telemetry.NewEventEmitter(telemetryService, logger.Named("emitter"), eventStorage)

	traceHelper := telemetryService.GetTraceHelper()

	var dbStep optimize.Optimizer
	if contentDB != nil {
		dbStep = optimize.NewDatabaseStep(contentDB, queries, traceHelper, logger.Named("optimize"))
	}
	orchestrator := optimize.NewOrchestrator(
		dbStep,
		optimize.NewCacheStep(pageCache, logger.Named("optimize")),
		optimize.NewImageStep(images, logger.Named("optimize")),
		traceHelper,
		logger.Named("optimize"),
	)

	limiter := api.NewIPRateLimiter(cfg.RateLimit, logger)

	m := &Manager{
		config:           cfg,
		logger:           logger,
		configPath:       configPath,
		version:          version,
		queries:          queries,
		vitals:           vitals,
		events:           events,
		images:           images,
		issues:           issues,
		pageCache:        pageCache,
		contentDB:        contentDB,
		eventStore:       eventStore,
		telemetryService: telemetryService,
		eventEmitter:     eventEmitter,
		limiter:          limiter,
		orchestrator:     orchestrator,
		breached:         make(map[string]bool),
		healthStates:     make(map[string]string),
	}

	m.apiServer = api.NewServer(logger,
		api.Collectors{Queries: queries, Vitals: vitals, Events: events, Images: images, Issues: issues},
		m, m, cfg.Monitor, limiter, traceHelper,
		cfg.Server.API.MaxBodyBytes, version)

	exporter, err := prometheus.NewExporter(cfg.Server, prometheus.Sources{
		Queries: queries,
		Vitals:  vitals,
		Events:  events,
		Images:  images,
		Issues:  issues,
		Cache:   pageCache,
	}, logger)
	if err != nil {
		pageCache.Close()
		if contentDB != nil {
			contentDB.Close()
		}
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	exporter.SetAPIServer(m.apiServer)
	m.exporter = exporter

	return m, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager is already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.mu.Unlock()

	if err := m.checkBindAddressAvailable(m.config.Server.BindAddress); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("server bind address %s is not available: %w",
			m.config.Server.BindAddress, err)
	}

	m.eventEmitter.EmitConfigurationEvent(ctx, telemetry.ConfigurationEventDetails{
		Action:   "loaded",
		FilePath: m.configPath,
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.logger.Info("Starting telemetry service")
		return m.telemetryService.Start(gCtx)
	})

	g.Go(func() error {
		m.logger.Info("Starting HTTP server",
			zap.String("bind_address", m.config.Server.BindAddress))
		return m.exporter.Start(gCtx)
	})

	g.Go(func() error {
		return m.watchThresholds(gCtx)
	})

	if m.eventStore != nil {
		g.Go(func() error {
			return m.pruneEvents(gCtx)
		})
	}

	m.logger.Info("Manager started",
		zap.String("version", m.version),
		zap.Duration("startup_time", time.Since(m.startTime)))

	err := g.Wait()

	m.shutdown()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	if err != nil && err != context.Canceled {
		m.logger.Error("Manager stopped with error", zap.Error(err))
		return err
	}
	m.logger.Info("Manager stopped gracefully")
	return nil
}

func (m *Manager) shutdown() {
	m.logger.Info("Stopping remaining services")

	if m.limiter != nil {
		m.limiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := m.telemetryService.Stop(shutdownCtx); err != nil {
		m.logger.Error("Failed to stop telemetry service", zap.Error(err))
	}

	m.pageCache.Close()
	if m.contentDB != nil {
		if err := m.contentDB.Close(); err != nil {
			m.logger.Error("Failed to close content database", zap.Error(err))
		}
	}
}

// RunFull runs one optimization pass and records the outcome as an
// operational event. Implements the API server's optimizer interface.
func (m *Manager) RunFull(ctx context.Context) optimize.Report {
	start := time.Now()
	report := m.orchestrator.RunFull(ctx)

	m.eventEmitter.EmitOptimizationEvent(ctx, telemetry.OptimizationEventDetails{
		Success:            report.Overall.Success,
		TotalOptimizations: report.Overall.TotalOptimizations,
		TotalErrors:        report.Overall.TotalErrors,
		DurationMs:         float64(time.Since(start)) / float64(time.Millisecond),
		Trigger:            "manual",
	})
	return report
}

// Reload re-reads the configuration file and applies the tunables that can
// change at runtime: the query tracker's threshold and enablement. Buffer
// capacities and the server address require a restart.
func (m *Manager) Reload(ctx context.Context) error {
	m.logger.Info("Reloading configuration", zap.String("path", m.configPath))

	path := m.configPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	newConfig, err := config.Load(path)
	if err != nil {
		m.eventEmitter.EmitConfigurationEvent(ctx, telemetry.ConfigurationEventDetails{
			Action:   "reloaded",
			Errors:   []string{err.Error()},
			FilePath: path,
		})
		return fmt.Errorf("failed to reload config: %w", err)
	}

	m.queries.SetSlowThreshold(newConfig.Collectors.Queries.SlowThresholdMs)
	m.queries.SetEnabled(newConfig.Collectors.Queries.Enabled)

	m.mu.Lock()
	m.config = newConfig
	m.lastReload = time.Now()
	m.mu.Unlock()

	m.eventEmitter.EmitConfigurationEvent(ctx, telemetry.ConfigurationEventDetails{
		Action:   "reloaded",
		FilePath: path,
		Changes: map[string]interface{}{
			"collectors.queries.slow_threshold_ms": newConfig.Collectors.Queries.SlowThresholdMs,
			"collectors.queries.enabled":           newConfig.Collectors.Queries.Enabled,
		},
	})
	m.logger.Info("Configuration reloaded")
	return nil
}

// Health reports per-component health. Implements the API server's health
// interface.
func (m *Manager) Health() map[string]string {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()

	components := map[string]string{
		"api":   config.HealthStateHealthy,
		"cache": config.HealthStateHealthy,
	}
	if !running {
		components["api"] = config.HealthStateUnhealthy
	}

	if m.contentDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.contentDB.DB().PingContext(ctx); err != nil {
			components["database"] = config.HealthStateUnhealthy
		} else {
			components["database"] = config.HealthStateHealthy
		}
	}

	if m.telemetryService.IsEnabled() {
		components["telemetry"] = config.HealthStateHealthy
	}

	return components
}

// watchThresholds periodically checks the vitals aggregates and component
// health, emitting one event per metric whose p75 crosses into poor and one
// per component whose health state changes.
func (m *Manager) watchThresholds(ctx context.Context) error {
	ticker := time.NewTicker(thresholdCheckInterval)
	defer ticker.Stop()

	m.observeHealth(ctx, m.Health())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkVitalsThresholds(ctx)
			m.observeHealth(ctx, m.Health())
		}
	}
}

func (m *Manager) checkVitalsThresholds(ctx context.Context) {
	for name, agg := range m.vitals.Aggregated() {
		poor := agg.Rating == stats.RatingPoor
		was := m.breached[name]
		if poor && !was {
			threshold := collector.VitalThresholds(name).Poor
			m.eventEmitter.EmitThresholdBreachEvent(ctx, telemetry.ThresholdBreachEventDetails{
				Metric:    name,
				Value:     agg.P75,
				Threshold: threshold,
			})
		}
		m.breached[name] = poor
	}
}

// observeHealth compares component health against the previous observation
// and emits one change event per component that transitioned. The first
// observation only seeds the baseline.
func (m *Manager) observeHealth(ctx context.Context, components map[string]string) {
	for name, state := range components {
		prev, seen := m.healthStates[name]
		if seen && prev != state {
			m.eventEmitter.EmitHealthChangeEvent(ctx, name, telemetry.HealthChangeEventDetails{
				PreviousState: prev,
				NewState:      state,
				CheckType:     healthCheckType(name),
			})
		}
		m.healthStates[name] = state
	}
}

func healthCheckType(component string) string {
	switch component {
	case "database":
		return "database"
	case "cache":
		return "cache"
	default:
		return "endpoint"
	}
}

// pruneEvents deletes persisted events past the retention window.
func (m *Manager) pruneEvents(ctx context.Context) error {
	ticker := time.NewTicker(eventPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.eventStore.Prune(ctx, eventRetention); err != nil {
				m.logger.Error("Event pruning failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) checkBindAddressAvailable(bindAddress string) error {
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return fmt.Errorf("address is already in use or cannot be bound: %w", err)
	}
	listener.Close()
	return nil
}

// IsRunning reports whether Run is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
