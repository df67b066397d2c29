// Package cache provides the shared key-value cache and the best-effort
// distributed lock used to coordinate processing across instances. Both
// live on the same backing store in production (Redis) but are logically
// distinct: cache entries are payloads with TTLs, locks are set-if-absent
// markers whose only liveness guarantee is TTL expiry.
package cache

import (
	"context"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// KnownHashSet is the key of the set of content hashes ever submitted.
const KnownHashSet = "img:known"

// Store is the cache-and-lock contract consumed by the facade and the
// pipeline. All operations are network calls and may fail transiently;
// callers treat cache unavailability as a miss, except TryLock whose
// error must surface so "busy" and "store down" stay distinguishable.
type Store interface {
	// Get returns the cached result for key, whether it was found,
	// and any transport error.
	Get(ctx context.Context, key string) (*imagecache.Result, bool, error)

	// Set stores the result under key with the given TTL.
	Set(ctx context.Context, key string, value *imagecache.Result, ttl time.Duration) error

	// Delete removes the entry for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Touch resets the TTL of an existing entry. Best-effort.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// MarkKnown records a content hash in the known-hash set.
	MarkKnown(ctx context.Context, hash string) error

	// IsKnown reports whether a content hash has been seen before.
	IsKnown(ctx context.Context, hash string) (bool, error)

	// TryLock atomically creates the lock key only if absent, with the
	// given expiry. Returns whether acquisition succeeded. Never blocks.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock deletes the lock key unconditionally. Idempotent; safe to
	// call without holding the lock. A failed unlock self-heals via TTL.
	Unlock(ctx context.Context, key string) error
}
