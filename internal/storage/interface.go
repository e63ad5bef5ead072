package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the read-side operations the orchestrator needs on the
// upload bucket. The pipeline never writes media itself; executors do.
type ObjectStorage interface {
	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string
}
