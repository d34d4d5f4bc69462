// Package cache holds the rendered-page cache the editorial platform sits
// behind. The telemetry core treats it as an external collaborator: the
// optimization orchestrator reads its stats and may clear or warm it.
package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

const (
	// DefaultMaxCostBytes is the byte budget used when none is configured.
	DefaultMaxCostBytes = 64 << 20 // 64 MiB

	// DefaultNumCounters sizes the admission sketch when none is configured.
	DefaultNumCounters = 100_000
)

// Config sizes the page cache.
type Config struct {
	// MaxCostBytes is the total byte budget for cached pages.
	MaxCostBytes int64 `yaml:"max_cost_bytes"`
	// NumCounters sizes the admission sketch; ristretto recommends 10x the
	// expected number of entries.
	NumCounters int64 `yaml:"num_counters"`
}

// Stats is the snapshot the orchestrator folds into its cache report.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRatio  float64 `json:"hit_ratio"`
	KeysAdded uint64  `json:"keys_added"`
	CostAdded uint64  `json:"cost_added"`
	Evictions uint64  `json:"evictions"`
}

// PageCache caches rendered page bodies keyed by canonical path.
type PageCache struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// New creates a page cache. Zero config fields get working defaults.
func New(cfg Config, logger *zap.Logger) (*PageCache, error) {
	if cfg.MaxCostBytes <= 0 {
		cfg.MaxCostBytes = DefaultMaxCostBytes
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultNumCounters
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}

	return &PageCache{cache: c, logger: logger}, nil
}

// Get returns the cached body for a path, if present.
func (p *PageCache) Get(path string) ([]byte, bool) {
	v, ok := p.cache.Get(path)
	if !ok {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}

// Set stores a rendered body under a path, costed by its size.
func (p *PageCache) Set(path string, body []byte) bool {
	return p.cache.Set(path, body, int64(len(body)))
}

// Wait blocks until buffered writes have been applied. Sets are
// asynchronous in ristretto.
func (p *PageCache) Wait() {
	p.cache.Wait()
}

// Del removes a path from the cache.
func (p *PageCache) Del(path string) {
	p.cache.Del(path)
}

// Clear drops every cached page. Metrics are preserved across the clear so
// hit ratios remain meaningful to the orchestrator.
func (p *PageCache) Clear() {
	p.cache.Clear()
	p.logger.Info("Page cache cleared")
}

// Stats reports the cache's current counters.
func (p *PageCache) Stats() Stats {
	m := p.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		HitRatio:  m.Ratio(),
		KeysAdded: m.KeysAdded(),
		CostAdded: m.CostAdded(),
		Evictions: m.KeysEvicted(),
	}
}

// Close releases the cache's resources.
func (p *PageCache) Close() {
	p.cache.Close()
}
