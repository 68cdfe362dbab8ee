package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileFetcher reads batch documents from the local filesystem.
type FileFetcher struct{}

// Fetch reads the file at location.
func (FileFetcher) Fetch(ctx context.Context, location string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(location, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", location, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedSource, location)
	}

	data, err := readLimited(f, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}
