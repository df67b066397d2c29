// Package objectstore holds processed image bytes. Retrieval is always
// through time-limited presigned URLs; the pipeline never hands raw object
// bytes back to callers.
package objectstore

import (
	"context"
	"time"
)

// Store provides write access plus presigned retrieval for stored objects.
type Store interface {
	// Put uploads data under key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PresignGet returns a time-limited retrieval URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Bucket returns the logical bucket name objects are stored in.
	Bucket() string
}
