// Package storage is the object storage boundary for session audio and
// per-turn clips. Paths are forward-slash separated and relative to the
// store root; Put returns a durable reference string.
package storage

import (
	"context"
	"io"
)

type ObjectStore interface {
	// Put stores the contents of r at path, replacing any existing object.
	Put(ctx context.Context, path string, r io.Reader, contentType string) (string, error)

	// Get opens the object at path. Missing objects yield an error wrapping os.ErrNotExist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
