// Package fetchers reads scan batch documents from local disk, S3 or HTTPS.
package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openctemio/vulncatalog/pkg/domain/shared"
)

// Fetcher reads one object.
type Fetcher interface {
	// Fetch reads the object at location. It fails with ErrTooLarge when the
	// object exceeds maxBytes.
	Fetch(ctx context.Context, location string, maxBytes int64) ([]byte, error)
}

// Fetch errors.
var (
	ErrTooLarge          = fmt.Errorf("%w: batch document too large", shared.ErrValidation)
	ErrUnsupportedSource = fmt.Errorf("%w: unsupported batch source", shared.ErrValidation)
	ErrBlockedURL        = fmt.Errorf("%w: blocked batch url", shared.ErrValidation)
)

// readLimited reads r up to maxBytes. A zero limit disables the check.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// notFound marks err as a missing object so job handlers do not retry it.
func notFound(location string, err error) error {
	return fmt.Errorf("batch document %s: %w", location, errors.Join(shared.ErrNotFound, err))
}
