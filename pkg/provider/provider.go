// Package provider defines the object storage boundary used by the upload
// stage.
//
// The pipeline needs a small surface: existence checks for skip-existing
// uploads, streaming puts, and presigned GET URLs that the transcription
// service can fetch audio from. Implementations use SDK default credential
// chains and must be safe for concurrent use by stage workers.
package provider

import (
	"context"
	"io"
	"time"
)

// Store abstracts the object storage operations the upload stage needs.
type Store interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound (via errors.Is) when the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Put uploads an object.
	Put(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// PresignGet returns a presigned GET URL valid for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ObjectMeta contains metadata returned by Head.
type ObjectMeta struct {
	// Key is the full object key in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag reported by the store.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}
