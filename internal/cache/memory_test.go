package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.Get(ctx, "img:a:b")
	require.NoError(t, err)
	assert.False(t, found)

	want := &imagecache.Result{Status: imagecache.StatusReady, Version: 3}
	require.NoError(t, store.Set(ctx, "img:a:b", want, time.Minute))

	got, found, err := store.Get(ctx, "img:a:b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, *want, *got)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "img:a:b", &imagecache.Result{Status: imagecache.StatusProcessing}, 5*time.Minute))

	now = now.Add(5*time.Minute + time.Second)

	_, found, err := store.Get(ctx, "img:a:b")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after its TTL")
}

func TestMemoryStore_Touch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "k", &imagecache.Result{Status: imagecache.StatusReady}, time.Minute))

	now = now.Add(50 * time.Second)
	require.NoError(t, store.Touch(ctx, "k", time.Minute))

	now = now.Add(30 * time.Second)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found, "touch must extend the TTL")

	// Touching a missing key is not an error
	assert.NoError(t, store.Touch(ctx, "missing", time.Minute))
}

func TestMemoryStore_LockSelfHealsAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	locked, err := store.TryLock(ctx, "lock:img:a:b", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	// Still held before TTL
	locked, err = store.TryLock(ctx, "lock:img:a:b", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked)

	now = now.Add(59 * time.Second)
	locked, err = store.TryLock(ctx, "lock:img:a:b", time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "lock must not expire before its TTL")

	now = now.Add(2 * time.Second)
	locked, err = store.TryLock(ctx, "lock:img:a:b", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "lock must self-heal after TTL expiry")
}

func TestMemoryStore_UnlockIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Unlock without ever holding is safe
	require.NoError(t, store.Unlock(ctx, "lock:never-held"))

	locked, err := store.TryLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, store.Unlock(ctx, "lock:k"))
	require.NoError(t, store.Unlock(ctx, "lock:k"))

	locked, err = store.TryLock(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestMemoryStore_KnownHashes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	known, err := store.IsKnown(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, store.MarkKnown(ctx, "deadbeef"))

	known, err = store.IsKnown(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, known)
}
