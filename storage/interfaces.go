package storage

import (
	"context"
	"io"

	"listingwatch/models"
)

// KV is the key/value persistence the snapshot store is built on.
// Get returns models.ErrNotFound for missing keys; PutNew returns
// models.ErrKeyExists instead of overwriting.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutNew(ctx context.Context, key string, value []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// BlobStore holds archived image bytes. Paths are immutable: Put returns
// models.ErrObjectExists rather than overwriting.
type BlobStore interface {
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ChangeWriter is an optional export sink for detected changes.
type ChangeWriter interface {
	WriteChanges(changes []*models.ChangeEvent) error
	Close() error
}
