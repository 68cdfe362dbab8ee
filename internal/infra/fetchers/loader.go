package fetchers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/logger"
)

// DefaultMaxBatchBytes bounds a decompressed batch document.
const DefaultMaxBatchBytes int64 = 256 << 20

// LoaderConfig tunes a Loader.
type LoaderConfig struct {
	// MaxBytes bounds both the stored and the decompressed document.
	MaxBytes int64
	// MaxRatio bounds decompressed size relative to stored size.
	MaxRatio int
}

// Loader resolves a batch URI to a decoded ScanBatch. Supported forms are a
// bare local path, file://path, s3://bucket/key and http(s)://url.
type Loader struct {
	file     Fetcher
	s3       Fetcher
	http     Fetcher
	maxBytes int64
	maxRatio int
	logger   *logger.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithS3Fetcher enables s3:// URIs.
func WithS3Fetcher(f Fetcher) LoaderOption {
	return func(l *Loader) { l.s3 = f }
}

// WithHTTPFetcher enables http:// and https:// URIs.
func WithHTTPFetcher(f Fetcher) LoaderOption {
	return func(l *Loader) { l.http = f }
}

// NewLoader creates a loader for local files plus the enabled remote sources.
func NewLoader(cfg LoaderConfig, log *logger.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		file:     FileFetcher{},
		maxBytes: cfg.MaxBytes,
		maxRatio: cfg.MaxRatio,
		logger:   log.With("component", "batch_loader"),
	}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxBatchBytes
	}
	if l.maxRatio <= 0 {
		l.maxRatio = DefaultMaxRatio
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches, decompresses and decodes the batch document at uri.
func (l *Loader) Load(ctx context.Context, uri string) (*dedup.ScanBatch, error) {
	fetcher, location, err := l.route(uri)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := fetcher.Fetch(ctx, location, l.maxBytes)
	if err != nil {
		return nil, err
	}

	compression := DetectCompression(raw)
	data, err := Decompress(raw, l.maxBytes, l.maxRatio)
	if err != nil {
		return nil, err
	}

	batch, err := DecodeBatch(data)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("batch document loaded",
		"scan_id", batch.ScanID,
		"findings", len(batch.Findings),
		"stored_bytes", len(raw),
		"bytes", len(data),
		"compression", string(compression),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return batch, nil
}

func (l *Loader) route(uri string) (Fetcher, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, "", fmt.Errorf("%w: empty batch uri", ErrUnsupportedSource)
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return l.file, uri, nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		return l.file, rest, nil
	case "s3":
		if l.s3 == nil {
			return nil, "", fmt.Errorf("%w: s3 storage is not configured", ErrUnsupportedSource)
		}
		return l.s3, rest, nil
	case "http", "https":
		if l.http == nil {
			return nil, "", fmt.Errorf("%w: http sources are not enabled", ErrUnsupportedSource)
		}
		return l.http, uri, nil
	default:
		return nil, "", fmt.Errorf("%w: scheme %s", ErrUnsupportedSource, scheme)
	}
}

// DecodeBatch parses a JSON batch document.
func DecodeBatch(data []byte) (*dedup.ScanBatch, error) {
	var batch dedup.ScanBatch
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("%w: malformed batch document: %v", shared.ErrValidation, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after batch document", shared.ErrValidation)
	}
	return &batch, nil
}
