// Package blob abstracts the object store holding persisted shard files
// and manifests. Backends: local filesystem (default), S3-compatible,
// Azure Blob Storage, and Google Cloud Storage.
package blob

import (
	"context"
	"io"
)

// Store is a flat key/value object store. Keys are slash-separated
// relative paths ("manifests/<id>.json", "shards/<id>/<n>.parquet").
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error

	// List returns the keys under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
