package collector

import (
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/buffer"
	"go.uber.org/zap"
)

const (
	// DefaultImageCapacity bounds the image load buffer.
	DefaultImageCapacity = 200

	// SlowImageThresholdMs flags images that took too long to load.
	SlowImageThresholdMs = 2000

	// LargeImageThresholdBytes flags images over 1 MiB.
	LargeImageThresholdBytes = 1 << 20
)

// ImageDimensions holds the rendered width and height in pixels.
type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ImageLoadMetric records one image load observed by the client.
type ImageLoadMetric struct {
	Src        string          `json:"src"`
	LoadTimeMs float64         `json:"load_time_ms"`
	SizeBytes  int64           `json:"size_bytes"`
	Format     string          `json:"format"`
	Dimensions ImageDimensions `json:"dimensions"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ImageStats summarizes the full image buffer.
type ImageStats struct {
	TotalImages   int     `json:"total_images"`
	AvgLoadTimeMs float64 `json:"avg_load_time_ms"`
	AvgSizeBytes  float64 `json:"avg_size_bytes"`
	SlowImages    int     `json:"slow_images"`
	LargeImages   int     `json:"large_images"`
}

// ImageCollector ingests per-image load metrics and flags slow and large
// images. The two checks are independent; a single image can trip both.
type ImageCollector struct {
	logger *zap.Logger
	buf    *buffer.Ring[ImageLoadMetric]
}

// NewImageCollector creates an image load collector.
func NewImageCollector(capacity int, logger *zap.Logger) *ImageCollector {
	if capacity <= 0 {
		capacity = DefaultImageCapacity
	}
	return &ImageCollector{
		logger: logger,
		buf:    buffer.New[ImageLoadMetric](capacity),
	}
}

// TrackLoad appends an image load sample. Both the slow-image and the
// large-image check run on every call.
func (c *ImageCollector) TrackLoad(src string, loadTimeMs float64, sizeBytes int64, format string, dims ImageDimensions) {
	c.Record(ImageLoadMetric{
		Src:        src,
		LoadTimeMs: loadTimeMs,
		SizeBytes:  sizeBytes,
		Format:     format,
		Dimensions: dims,
	})
}

// Record appends an already-built metric, applying the same flag checks as
// TrackLoad. Used by the ingestion endpoint.
func (c *ImageCollector) Record(metric ImageLoadMetric) {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}
	c.buf.Append(metric)

	if metric.LoadTimeMs > SlowImageThresholdMs {
		c.logger.Warn("Slow image load",
			zap.String("src", metric.Src),
			zap.Float64("load_time_ms", metric.LoadTimeMs))
	}
	if metric.SizeBytes > LargeImageThresholdBytes {
		c.logger.Warn("Large image",
			zap.String("src", metric.Src),
			zap.Int64("size_bytes", metric.SizeBytes))
	}
}

// Metrics returns image samples newest-first, truncated to limit.
func (c *ImageCollector) Metrics(limit int) []ImageLoadMetric {
	return c.buf.Snapshot(nil, limit)
}

// Stats aggregates over the full buffer using the same thresholds as the
// per-call flag checks.
func (c *ImageCollector) Stats() ImageStats {
	metrics := c.buf.All()
	if len(metrics) == 0 {
		return ImageStats{}
	}

	st := ImageStats{TotalImages: len(metrics)}
	var timeSum, sizeSum float64
	for _, m := range metrics {
		timeSum += m.LoadTimeMs
		sizeSum += float64(m.SizeBytes)
		if m.LoadTimeMs > SlowImageThresholdMs {
			st.SlowImages++
		}
		if m.SizeBytes > LargeImageThresholdBytes {
			st.LargeImages++
		}
	}
	st.AvgLoadTimeMs = timeSum / float64(len(metrics))
	st.AvgSizeBytes = sizeSum / float64(len(metrics))

	return st
}

// Clear empties the image buffer.
func (c *ImageCollector) Clear() {
	c.buf.Clear()
}
