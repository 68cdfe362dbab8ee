package fetchers

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxRatio bounds decompressed size relative to compressed size.
const DefaultMaxRatio = 100

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Compression identifies the encoding of a batch document.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// DetectCompression sniffs the magic bytes of data.
func DetectCompression(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// Decompress expands gzip or zstd data. The output is bounded by maxBytes
// and by maxRatio times the input size; uncompressed data is returned as is.
func Decompress(data []byte, maxBytes int64, maxRatio int) ([]byte, error) {
	compression := DetectCompression(data)
	if compression == CompressionNone {
		return data, nil
	}

	if maxRatio <= 0 {
		maxRatio = DefaultMaxRatio
	}
	limit := int64(len(data)) * int64(maxRatio)
	if maxBytes > 0 {
		limit = min(limit, maxBytes)
	}

	var r io.Reader
	switch compression {
	case CompressionZstd:
		dec, derr := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(uint64(limit)+1))
		if derr != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", derr)
		}
		defer dec.Close()
		r = dec
	case CompressionGzip:
		gz, gerr := gzip.NewReader(bytes.NewReader(data))
		if gerr != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", gerr)
		}
		defer gz.Close()
		r = gz
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, fmt.Errorf("%w: %s batch expands beyond %d bytes", ErrTooLarge, compression, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s batch: %w", compression, err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: %s batch expands beyond %d bytes", ErrTooLarge, compression, limit)
	}
	return out, nil
}
