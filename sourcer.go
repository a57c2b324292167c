// Package sourcer implements the catalog image acquisition pipeline: a
// work queue of sourcing requests drained in bounded batches, a bulk
// scanner for published products lacking artwork, content-hash
// deduplication, and the review gate that decides buyer visibility.
package sourcer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/image/webp"

	"github.com/zombar/imagesourcer/metrics"
	"github.com/zombar/imagesourcer/models"
	"github.com/zombar/imagesourcer/providers"
	"github.com/zombar/imagesourcer/storage"
)

// Config contains pipeline configuration
type Config struct {
	HTTPTimeout       time.Duration
	FetchTimeout      time.Duration // Timeout for downloading an individual image
	MaxImageSizeBytes int64         // Maximum image size to download (bytes)
	QueueBatchSize    int           // Maximum queue items per invocation
	QueueMinBytes     int           // Minimum image size for queue-sourced items
	ScanMinBytes      int           // Minimum image size for bulk-scan-sourced items
	MaxWorkers        int           // Worker pool size for batch processing
	StaleClaimAge     time.Duration // Age after which a processing claim is considered abandoned
	UserAgent         string
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       30 * time.Second,
		FetchTimeout:      15 * time.Second,
		MaxImageSizeBytes: 10 * 1024 * 1024, // 10MB max image size
		QueueBatchSize:    10,
		QueueMinBytes:     10 * 1024, // 10KB
		ScanMinBytes:      40 * 1024, // 40KB
		MaxWorkers:        3,
		StaleClaimAge:     10 * time.Minute,
		UserAgent:         "Mozilla/5.0 (compatible; ImageSourcer/1.0)",
	}
}

// Store defines the persistence operations the pipeline needs. *db.DB
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	ClaimPending(ctx context.Context, limit int) ([]*models.QueueItem, error)
	ReclaimStale(ctx context.Context, age time.Duration) (int, error)
	MarkCompleted(ctx context.Context, id, processedURL string) error
	MarkPending(ctx context.Context, id, reason string) error
	MarkFailed(ctx context.Context, id, reason string) error

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ProductsWithoutImages(ctx context.Context) ([]*models.Product, error)
	AppendProductImage(ctx context.Context, id, url string, confidence models.Confidence) error
	SetProductImages(ctx context.Context, id string, images []string, confidence models.Confidence) error
	ApproveImages(ctx context.Context, id string) error
	SetRejected(ctx context.Context, id, notes string) error

	InsertImageHash(ctx context.Context, rec *models.ImageHashRecord) (bool, error)
}

// Sourcer drives the image acquisition pipeline
type Sourcer struct {
	config       Config
	httpClient   *http.Client
	store        Store
	objects      storage.ObjectStore
	chain        *providers.Chain
	placeholders *providers.PlaceholderCatalog
}

// New creates a new Sourcer instance
func New(config Config, store Store, objects storage.ObjectStore, chain *providers.Chain, placeholders *providers.PlaceholderCatalog) *Sourcer {
	if chain != nil {
		chain.OnFailure(func(provider string, err error) {
			metrics.ProviderFailures.WithLabelValues(provider).Inc()
		})
	}

	return &Sourcer{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:        store,
		objects:      objects,
		chain:        chain,
		placeholders: placeholders,
	}
}

// fetchImage downloads an image with size and timeout limits, returning
// the raw bytes and the declared content type
func (s *Sourcer) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > s.config.MaxImageSizeBytes {
		return nil, "", fmt.Errorf("image too large: %d bytes (max: %d)", resp.ContentLength, s.config.MaxImageSizeBytes)
	}

	// Read with size limit
	limitedReader := io.LimitReader(resp.Body, s.config.MaxImageSizeBytes+1)
	imageData, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}

	if int64(len(imageData)) > s.config.MaxImageSizeBytes {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", s.config.MaxImageSizeBytes)
	}

	return imageData, resp.Header.Get("Content-Type"), nil
}

// validateImage rejects candidates whose declared content type is not an
// image or whose byte length is below minBytes
func validateImage(data []byte, contentType string, minBytes int) error {
	normalized := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !strings.HasPrefix(normalized, "image/") {
		return fmt.Errorf("not an image content type: %q", contentType)
	}

	if len(data) < minBytes {
		return fmt.Errorf("image too small: %d bytes (min: %d)", len(data), minBytes)
	}

	return nil
}

// assignConfidence tags a validated candidate. Placeholder-sourced images
// are never representative of the product, and images that barely clear
// the size floor tend to be thumbnails, so both are tagged low.
func assignConfidence(size, minBytes int, placeholder bool) models.Confidence {
	if placeholder {
		return models.ConfidenceLow
	}
	if size < 2*minBytes {
		return models.ConfidenceLow
	}
	return models.ConfidenceHigh
}

// captureImageMeta fills a ledger record with best-effort image metadata:
// pixel dimensions and, for formats that carry it, EXIF. Failures here
// never fail the candidate; metadata is diagnostic only.
func captureImageMeta(rec *models.ImageHashRecord, data []byte, contentType string) {
	rec.FileSizeBytes = int64(len(data))
	rec.ContentType = contentType

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		rec.Width = cfg.Width
		rec.Height = cfg.Height
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	meta := &models.EXIFData{}
	if v, err := x.Get(exif.DateTime); err == nil {
		meta.DateTime, _ = v.StringVal()
	}
	if v, err := x.Get(exif.DateTimeOriginal); err == nil {
		meta.DateTimeOriginal, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Make); err == nil {
		meta.Make, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Model); err == nil {
		meta.Model, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Copyright); err == nil {
		meta.Copyright, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Artist); err == nil {
		meta.Artist, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Software); err == nil {
		meta.Software, _ = v.StringVal()
	}
	if v, err := x.Get(exif.Orientation); err == nil {
		if n, err := v.Int(0); err == nil {
			meta.Orientation = n
		}
	}
	if *meta != (models.EXIFData{}) {
		rec.EXIF = meta
	}
}

// storageKey builds a deterministic object key namespaced by owner. The
// timestamp keeps successive sourcing events for the same owner from
// colliding while staying stable within a single attempt.
func storageKey(namespace, owner, contentType string, now time.Time) string {
	ext := storage.ExtensionFromContentType(contentType)
	if ext == "" {
		ext = ".jpg" // Default extension
	}
	return fmt.Sprintf("%s/%s/%d%s", namespace, owner, now.Unix(), ext)
}
