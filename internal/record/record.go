// Package record is the durable counterpart of the cache: one row per
// content key, created on first successful processing and versioned on
// every reprocessing. Rows are never deleted here.
package record

import (
	"context"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Record is the persisted state of one processed image identity.
type Record struct {
	ID        int64
	Hash      string
	Sig       string
	Bucket    string
	Key       string
	Width     int
	Height    int
	MIME      string
	SizeBytes int64
	Status    imagecache.Status
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReadyAttrs are the mutable fields written by a successful pipeline run.
type ReadyAttrs struct {
	Bucket    string
	Key       string
	Width     int
	Height    int
	MIME      string
	SizeBytes int64
}

// Gateway is the durable-store contract. UpsertReady must be atomic with
// respect to the existence check: concurrent reprocessing of the same
// identity must never produce a duplicate row or a skipped version.
type Gateway interface {
	// FindByKey returns the record for (hash, sig), or nil when absent.
	FindByKey(ctx context.Context, hash, sig string) (*Record, error)

	// MarkProcessing upserts a placeholder row with status "processing".
	// A placeholder starts at version 0 so the first ready write still
	// lands on version 1. Existing rows keep their version.
	MarkProcessing(ctx context.Context, hash, sig string) error

	// UpsertReady creates the record at version 1, or overwrites the
	// mutable fields and increments the version by exactly 1.
	UpsertReady(ctx context.Context, hash, sig string, attrs ReadyAttrs) (*Record, error)

	// Version returns the current version for (hash, sig), or 0 when
	// the identity has never been recorded.
	Version(ctx context.Context, hash, sig string) (int, error)
}
