package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Oualidl290/new-andalus-telemetry/internal/api"
	"github.com/Oualidl290/new-andalus-telemetry/internal/cache"
	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/config"
	"github.com/Oualidl290/new-andalus-telemetry/internal/stats"
)

const namespace = "telemetry"

// Sources are the collectors the exporter reads on every scrape. Cache may
// be nil when page caching is disabled.
type Sources struct {
	Queries *collector.QueryTracker
	Vitals  *collector.VitalsCollector
	Events  *collector.EventCollector
	Images  *collector.ImageCollector
	Issues  *collector.IssueTracker
	Cache   *cache.PageCache
}

// Exporter exposes collector aggregates in Prometheus format and hosts the
// REST API on the same listener.
type Exporter struct {
	config  config.ServerConfig
	logger  *zap.Logger
	sources Sources

	server    *http.Server
	apiServer *api.Server
	registry  *prometheus.Registry

	// Scrape rate limiting
	rateLimiter *rate.Limiter

	// Query tracker
	queryTotal  prometheus.Gauge
	querySlow   prometheus.Gauge
	queryErrors prometheus.Gauge
	queryAvgMs  prometheus.Gauge
	queryMaxMs  prometheus.Gauge

	// Web vitals
	vitalsReports prometheus.Gauge
	vitalsP75     *prometheus.GaugeVec
	vitalsRating  *prometheus.GaugeVec

	// Performance events
	eventCount *prometheus.GaugeVec
	eventAvg   *prometheus.GaugeVec
	eventMax   *prometheus.GaugeVec

	// Image loads
	imagesTotal     prometheus.Gauge
	imagesSlow      prometheus.Gauge
	imagesLarge     prometheus.Gauge
	imageAvgLoadMs  prometheus.Gauge
	imageAvgSizeKiB prometheus.Gauge

	// Client errors
	errorsTotal   prometheus.Gauge
	errorsRecent  prometheus.Gauge
	errorsByLevel *prometheus.GaugeVec

	// Page cache
	cacheHits     prometheus.Gauge
	cacheMisses   prometheus.Gauge
	cacheHitRatio prometheus.Gauge

	// Scrape bookkeeping
	refreshDuration prometheus.Gauge

	mu      sync.RWMutex
	running bool
}

// NewExporter creates a Prometheus exporter reading from the given sources.
func NewExporter(cfg config.ServerConfig, sources Sources, logger *zap.Logger) (*Exporter, error) {
	e := &Exporter{
		config:  cfg,
		logger:  logger.Named("prometheus"),
		sources: sources,
		registry: prometheus.NewRegistry(),
		// 100 scrapes per second with burst of 200 is far above any sane
		// Prometheus scrape interval.
		rateLimiter: rate.NewLimiter(100, 200),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return e, nil
}

// SetAPIServer mounts the REST API on the exporter's listener. Must be
// called before Start.
func (e *Exporter) SetAPIServer(server *api.Server) {
	e.apiServer = server
}

func (e *Exporter) initMetrics() error {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	e.queryTotal = gauge("queries_buffered", "Query samples currently in the ring buffer")
	e.querySlow = gauge("queries_slow", "Buffered query samples over the slow threshold")
	e.queryErrors = gauge("queries_errors", "Buffered query samples that ended in an error")
	e.queryAvgMs = gauge("query_duration_avg_ms", "Average duration of buffered query samples")
	e.queryMaxMs = gauge("query_duration_max_ms", "Maximum duration of buffered query samples")

	e.vitalsReports = gauge("vitals_reports_buffered", "Web vitals reports currently in the ring buffer")
	e.vitalsP75 = gaugeVec("vitals_p75", "75th percentile of a web vital over the buffered reports", "metric")
	e.vitalsRating = gaugeVec("vitals_rating", "Rating of a web vital's p75 (0 good, 1 needs improvement, 2 poor)", "metric")

	e.eventCount = gaugeVec("events_buffered", "Performance events currently buffered, by kind", "kind")
	e.eventAvg = gaugeVec("event_magnitude_avg", "Average magnitude of buffered events, by kind", "kind")
	e.eventMax = gaugeVec("event_magnitude_max", "Maximum magnitude of buffered events, by kind", "kind")

	e.imagesTotal = gauge("images_buffered", "Image load samples currently in the ring buffer")
	e.imagesSlow = gauge("images_slow", "Buffered image loads over the slow threshold")
	e.imagesLarge = gauge("images_large", "Buffered image loads over the size threshold")
	e.imageAvgLoadMs = gauge("image_load_avg_ms", "Average load time of buffered images")
	e.imageAvgSizeKiB = gauge("image_size_avg_kib", "Average transfer size of buffered images")

	e.errorsTotal = gauge("errors_buffered", "Client error reports currently in the ring buffer")
	e.errorsRecent = gauge("errors_recent", "Buffered client errors reported within the last hour")
	e.errorsByLevel = gaugeVec("errors_by_level", "Buffered client errors by severity level", "level")

	e.cacheHits = gauge("cache_hits_total", "Page cache lookups that hit")
	e.cacheMisses = gauge("cache_misses_total", "Page cache lookups that missed")
	e.cacheHitRatio = gauge("cache_hit_ratio", "Page cache hit ratio since start")

	e.refreshDuration = gauge("refresh_duration_seconds", "Time spent refreshing gauges on the last scrape")

	collectors := []prometheus.Collector{
		e.queryTotal, e.querySlow, e.queryErrors, e.queryAvgMs, e.queryMaxMs,
		e.vitalsReports, e.vitalsP75, e.vitalsRating,
		e.eventCount, e.eventAvg, e.eventMax,
		e.imagesTotal, e.imagesSlow, e.imagesLarge, e.imageAvgLoadMs, e.imageAvgSizeKiB,
		e.errorsTotal, e.errorsRecent, e.errorsByLevel,
		e.cacheHits, e.cacheMisses, e.cacheHitRatio,
		e.refreshDuration,
	}
	for _, c := range collectors {
		if err := e.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Refresh recomputes every gauge from the current collector state. Called
// on each scrape so Prometheus always sees live aggregates.
func (e *Exporter) Refresh() {
	start := time.Now()

	if q := e.sources.Queries; q != nil {
		st := q.Stats()
		e.queryTotal.Set(float64(st.TotalQueries))
		e.querySlow.Set(float64(st.SlowQueries))
		e.queryErrors.Set(float64(st.ErrorQueries))
		e.queryAvgMs.Set(st.AvgDurationMs)
		e.queryMaxMs.Set(st.MaxDurationMs)
	}

	if v := e.sources.Vitals; v != nil {
		e.vitalsReports.Set(float64(v.Len()))
		for name, agg := range v.Aggregated() {
			e.vitalsP75.WithLabelValues(name).Set(agg.P75)
			e.vitalsRating.WithLabelValues(name).Set(ratingValue(agg.Rating))
		}
	}

	if ev := e.sources.Events; ev != nil {
		for kind, st := range ev.Stats() {
			e.eventCount.WithLabelValues(string(kind)).Set(float64(st.Count))
			e.eventAvg.WithLabelValues(string(kind)).Set(st.Avg)
			e.eventMax.WithLabelValues(string(kind)).Set(st.Max)
		}
	}

	if img := e.sources.Images; img != nil {
		st := img.Stats()
		e.imagesTotal.Set(float64(st.TotalImages))
		e.imagesSlow.Set(float64(st.SlowImages))
		e.imagesLarge.Set(float64(st.LargeImages))
		e.imageAvgLoadMs.Set(st.AvgLoadTimeMs)
		e.imageAvgSizeKiB.Set(st.AvgSizeBytes / 1024)
	}

	if iss := e.sources.Issues; iss != nil {
		st := iss.ErrorStats()
		e.errorsTotal.Set(float64(st.TotalErrors))
		e.errorsRecent.Set(float64(st.RecentErrors))
		for level, count := range st.ErrorsByLevel {
			e.errorsByLevel.WithLabelValues(level).Set(float64(count))
		}
	}

	if c := e.sources.Cache; c != nil {
		st := c.Stats()
		e.cacheHits.Set(float64(st.Hits))
		e.cacheMisses.Set(float64(st.Misses))
		e.cacheHitRatio.Set(st.HitRatio)
	}

	e.refreshDuration.Set(time.Since(start).Seconds())
}

func ratingValue(r stats.Rating) float64 {
	switch r {
	case stats.RatingGood:
		return 0
	case stats.RatingNeedsImprovement:
		return 1
	default:
		return 2
	}
}

// rateLimitMiddleware rejects scrapes beyond the configured rate.
func (e *Exporter) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.rateLimiter.Allow() {
			e.logger.Warn("Scrape rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))

			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the full HTTP handler: metrics, health, root and, when an
// API server is mounted, the REST API routes. Exposed for tests.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(e.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	refreshing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.Refresh()
		metricsHandler.ServeHTTP(w, r)
	})
	mux.Handle(e.config.MetricsPath, e.rateLimitMiddleware(refreshing))

	mux.HandleFunc("/", e.rootHandler)
	mux.HandleFunc(e.config.HealthPath, e.healthHandler)

	if e.config.API.Enabled && e.apiServer != nil {
		e.logger.Info("Enabling REST API endpoints", zap.String("base_path", e.config.API.BasePath))
		e.apiServer.SetupRoutes(mux)
		return e.apiServer.RecoveryMiddleware(e.apiServer.LoggingMiddleware(mux))
	}

	return mux
}

// Start serves metrics and the API until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Starting Prometheus exporter",
		zap.String("bind_address", e.config.BindAddress),
		zap.String("metrics_path", e.config.MetricsPath))

	e.server = &http.Server{
		Addr:         e.config.BindAddress,
		Handler:      e.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		err := e.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			e.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}

	e.logger.Info("Prometheus exporter stopped")
	return nil
}

// Stop halts the metrics server.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Exporter) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html>
<head><title>Telemetry Manager</title></head>
<body>
<h1>Telemetry Manager</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="%s">Health</a></p>
</body>
</html>`, e.config.MetricsPath, e.config.HealthPath)
}

func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
}
