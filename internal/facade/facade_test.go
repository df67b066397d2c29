package facade

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-cache/internal/cache"
	"github.com/tendant/simple-image-cache/internal/config"
	"github.com/tendant/simple-image-cache/internal/dispatch"
	"github.com/tendant/simple-image-cache/internal/identity"
	"github.com/tendant/simple-image-cache/internal/objectstore"
	"github.com/tendant/simple-image-cache/internal/processor"
	"github.com/tendant/simple-image-cache/internal/record"
	"github.com/tendant/simple-image-cache/internal/transform"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

func createTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 160, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// countingEngine wraps the real codec and counts full transforms, so tests
// can tell a cache hit from a silent reprocess.
type countingEngine struct {
	inner      transform.Engine
	transforms int32
}

func (e *countingEngine) Metadata(data []byte) (int, int, error) {
	return e.inner.Metadata(data)
}

func (e *countingEngine) Transform(data []byte, crop imagecache.NormalizedCrop) ([]byte, int, int, error) {
	atomic.AddInt32(&e.transforms, 1)
	return e.inner.Transform(data, crop)
}

// spyStore counts every cache-store call.
type spyStore struct {
	cache.Store
	calls int32
}

func (s *spyStore) Get(ctx context.Context, key string) (*imagecache.Result, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Set(ctx context.Context, key string, val *imagecache.Result, ttl time.Duration) error {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.Set(ctx, key, val, ttl)
}

func (s *spyStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.TryLock(ctx, key, ttl)
}

func (s *spyStore) MarkKnown(ctx context.Context, hash string) error {
	atomic.AddInt32(&s.calls, 1)
	return s.Store.MarkKnown(ctx, hash)
}

// capturingDispatcher records dispatched jobs without running them.
type capturingDispatcher struct {
	jobs []processor.Job
	err  error
}

func (d *capturingDispatcher) Dispatch(job processor.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	cache      *cache.MemoryStore
	records    record.Gateway
	engine     *countingEngine
	dispatcher *capturingDispatcher
	cfg        *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.LockPollAttempts = 2
	cfg.LockPollDelay = 5 * time.Millisecond

	cacheStore := cache.NewMemoryStore()
	records := record.NewMemoryGateway()
	objects, err := objectstore.NewFilesystemStore(t.TempDir(), "images")
	require.NoError(t, err)
	engine := &countingEngine{inner: transform.NewEngine()}
	pipeline := processor.NewPipeline(engine, objects, records, cacheStore, cfg.CacheTTL, cfg.SignedURLTTL)
	dispatcher := &capturingDispatcher{}

	return &fixture{
		orch:       NewOrchestrator(cacheStore, records, objects, engine, pipeline, dispatcher, &cfg),
		cache:      cacheStore,
		records:    records,
		engine:     engine,
		dispatcher: dispatcher,
		cfg:        &cfg,
	}
}

func TestSubmit_InvalidCropTouchesNoStore(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	spy := &spyStore{Store: fx.cache}
	fx.orch.cache = spy
	data := createTestJPEG(t, 100, 100)

	cases := []imagecache.CropParams{
		{X: -1, Y: 0, W: 10, H: 10},
		{X: 0, Y: -5, W: 10, H: 10},
		{X: 0, Y: 0, W: 0, H: 10},
		{X: 0, Y: 0, W: 10, H: 0},
		{X: 95, Y: 0, W: 10, H: 10},
		{X: 0, Y: 0, W: 10, H: 101},
	}
	for _, params := range cases {
		_, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
		require.Error(t, err)
		assert.ErrorIs(t, err, imagecache.ErrInvalidCrop)
	}
	assert.Zero(t, atomic.LoadInt32(&spy.calls), "validation failures must not touch the cache store")
}

func TestSubmit_UndecodableInput(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.orch.Submit(ctx, []byte("plain text"), imagecache.CropParams{W: 10, H: 10}, imagecache.ModeSync)
	require.Error(t, err)
	assert.ErrorIs(t, err, imagecache.ErrUnsupportedImage)

	_, err = fx.orch.Submit(ctx, nil, imagecache.CropParams{W: 10, H: 10}, imagecache.ModeSync)
	require.Error(t, err)
	assert.ErrorIs(t, err, imagecache.ErrUnsupportedImage)
}

func TestSubmit_SyncEndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)

	result, err := fx.orch.Submit(ctx, data, imagecache.CropParams{X: 50, Y: 50, W: 100, H: 100}, imagecache.ModeSync)
	require.NoError(t, err)

	assert.Equal(t, imagecache.StatusReady, result.Status)
	assert.Equal(t, 100, result.Width)
	assert.Equal(t, 100, result.Height)
	assert.Equal(t, "image/webp", result.MIME)
	assert.Equal(t, 1, result.Version)
	assert.NotEmpty(t, result.URL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.engine.transforms))

	// The lock is released, the hash is known, and the cache is warm
	key := identity.Derive(data, imagecache.CropParams{X: 50, Y: 50, W: 100, H: 100}.Normalize())
	locked, err := fx.cache.TryLock(ctx, key.LockKey(), time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
	known, err := fx.cache.IsKnown(ctx, key.Hash)
	require.NoError(t, err)
	assert.True(t, known)
	_, found, err := fx.cache.Get(ctx, key.CacheKey())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSubmit_RepeatIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{X: 0, Y: 0, W: 80, H: 60}

	first, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)
	second, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.engine.transforms),
		"a repeat submission of identical bytes and parameters must not reprocess")
}

func TestSubmit_CacheHitSlidesTTL(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 80, H: 60}
	key := identity.Derive(data, params.Normalize())

	_, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)

	// Freeze the clock just inside the entry's original TTL, take a hit,
	// then move past where the original expiry would have been.
	now := time.Now().Add(fx.cfg.CacheTTL - time.Minute)
	fx.cache.SetClock(func() time.Time { return now })
	_, err = fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, found, err := fx.cache.Get(ctx, key.CacheKey())
	require.NoError(t, err)
	assert.True(t, found, "a hit must slide the entry's TTL")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.engine.transforms))
}

func TestSubmit_EquivalentParamsShareIdentity(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)

	// Zero quality and the canonical default are the same identity
	_, err := fx.orch.Submit(ctx, data, imagecache.CropParams{W: 80, H: 60}, imagecache.ModeSync)
	require.NoError(t, err)
	_, err = fx.orch.Submit(ctx, data, imagecache.CropParams{W: 80, H: 60, Quality: 82, Format: "webp"}, imagecache.ModeSync)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.engine.transforms))
}

func TestSubmit_DistinctParamsAreDistinctArtifacts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)

	first, err := fx.orch.Submit(ctx, data, imagecache.CropParams{W: 80, H: 60}, imagecache.ModeSync)
	require.NoError(t, err)
	second, err := fx.orch.Submit(ctx, data, imagecache.CropParams{W: 80, H: 60, Quality: 90}, imagecache.ModeSync)
	require.NoError(t, err)

	assert.NotEqual(t, first.Sig, second.Sig)
	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 1, second.Version, "a new signature starts its own version sequence")
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fx.engine.transforms))
}

func TestSubmit_StrictDedupFailsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.cfg.DedupMode = imagecache.DedupStrict
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 100, H: 100}

	key := identity.Derive(data, params.Normalize())
	locked, err := fx.cache.TryLock(ctx, key.LockKey(), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.Error(t, err)
	assert.ErrorIs(t, err, imagecache.ErrLockBusy)
	assert.Zero(t, atomic.LoadInt32(&fx.engine.transforms))
}

func TestSubmit_LenientDedupProceedsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 100, H: 100}

	key := identity.Derive(data, params.Normalize())
	locked, err := fx.cache.TryLock(ctx, key.LockKey(), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	result, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)
	assert.Equal(t, imagecache.StatusReady, result.Status)

	// The foreign lock belongs to its holder and must survive the run
	locked, err = fx.cache.TryLock(ctx, key.LockKey(), time.Minute)
	require.NoError(t, err)
	assert.False(t, locked, "a lock this run never acquired must not be released")
}

func TestSubmit_AsyncDispatchesAndReturnsProcessing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{X: 10, Y: 10, W: 50, H: 50}
	key := identity.Derive(data, params.Normalize())

	result, err := fx.orch.Submit(ctx, data, params, imagecache.ModeAsync)
	require.NoError(t, err)

	assert.Equal(t, imagecache.StatusProcessing, result.Status)
	assert.Equal(t, key.Hash, result.Hash)
	assert.Equal(t, key.Sig, result.Sig)
	assert.Equal(t, key.ObjectKey("webp"), result.Key)
	assert.Zero(t, atomic.LoadInt32(&fx.engine.transforms), "async submit must not transform inline")

	// One job dispatched, carrying the lock key for deferred release
	require.Len(t, fx.dispatcher.jobs, 1)
	job := fx.dispatcher.jobs[0]
	assert.Equal(t, key, job.Key)
	assert.Equal(t, key.LockKey(), job.LockKey)
	assert.NotEmpty(t, job.RunID)

	// Placeholder cached, durable placeholder row written, hash known
	cached, found, err := fx.cache.Get(ctx, key.CacheKey())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, imagecache.StatusProcessing, cached.Status)

	rec, err := fx.records.FindByKey(ctx, key.Hash, key.Sig)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, imagecache.StatusProcessing, rec.Status)
	assert.Equal(t, 0, rec.Version)

	known, err := fx.cache.IsKnown(ctx, key.Hash)
	require.NoError(t, err)
	assert.True(t, known)
}

func TestSubmit_AsyncRepeatCoalescesOnPlaceholder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 50, H: 50}

	_, err := fx.orch.Submit(ctx, data, params, imagecache.ModeAsync)
	require.NoError(t, err)
	result, err := fx.orch.Submit(ctx, data, params, imagecache.ModeAsync)
	require.NoError(t, err)

	assert.Equal(t, imagecache.StatusProcessing, result.Status)
	assert.Len(t, fx.dispatcher.jobs, 1, "a submission racing an in-flight placeholder must not dispatch again")
}

func TestSubmit_AsyncQueueFullStillReturnsProcessing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.dispatcher.err = dispatch.ErrQueueFull
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 50, H: 50}
	key := identity.Derive(data, params.Normalize())

	result, err := fx.orch.Submit(ctx, data, params, imagecache.ModeAsync)
	require.NoError(t, err, "async submissions never surface dispatch failures")
	assert.Equal(t, imagecache.StatusProcessing, result.Status)

	// The lock was released on rejection; the placeholder stays until TTL
	locked, err := fx.cache.TryLock(ctx, key.LockKey(), time.Minute)
	require.NoError(t, err)
	assert.True(t, locked)
	_, found, err := fx.cache.Get(ctx, key.CacheKey())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSubmit_EmptyModeUsesConfiguredDefault(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.cfg.Mode = imagecache.ModeAsync
	data := createTestJPEG(t, 200, 200)

	result, err := fx.orch.Submit(ctx, data, imagecache.CropParams{W: 50, H: 50}, "")
	require.NoError(t, err)
	assert.Equal(t, imagecache.StatusProcessing, result.Status)
	assert.Len(t, fx.dispatcher.jobs, 1)
}

func TestLookup_UnknownHashReportsProcessing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	result, err := fx.orch.Lookup(ctx, "0000", "1111")
	require.NoError(t, err)
	assert.Equal(t, imagecache.StatusProcessing, result.Status)
}

func TestLookup_CacheHitReturnsEntryVerbatim(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	want := &imagecache.Result{Status: imagecache.StatusReady, Hash: "aaaa", Sig: "bbbb", URL: "https://x/y", Version: 3}
	require.NoError(t, fx.cache.Set(ctx, "img:aaaa:bbbb", want, time.Minute))

	got, err := fx.orch.Lookup(ctx, "aaaa", "bbbb")
	require.NoError(t, err)
	assert.Equal(t, *want, *got)
}

func TestLookup_RepopulatesCacheFromRecord(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	data := createTestJPEG(t, 200, 200)
	params := imagecache.CropParams{W: 100, H: 100}
	key := identity.Derive(data, params.Normalize())

	_, err := fx.orch.Submit(ctx, data, params, imagecache.ModeSync)
	require.NoError(t, err)

	// Simulate cache eviction; the durable record must answer
	require.NoError(t, fx.cache.Delete(ctx, key.CacheKey()))

	result, err := fx.orch.Lookup(ctx, key.Hash, key.Sig)
	require.NoError(t, err)
	assert.Equal(t, imagecache.StatusReady, result.Status)
	assert.Equal(t, 1, result.Version)
	assert.NotEmpty(t, result.URL)

	// And the cache is warm again
	cached, found, err := fx.cache.Get(ctx, key.CacheKey())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, imagecache.StatusReady, cached.Status)
}

func TestLookup_KnownHashWithProcessingRecord(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.cache.MarkKnown(ctx, "aaaa"))
	require.NoError(t, fx.records.MarkProcessing(ctx, "aaaa", "bbbb"))

	result, err := fx.orch.Lookup(ctx, "aaaa", "bbbb")
	require.NoError(t, err)
	assert.Equal(t, imagecache.StatusProcessing, result.Status)
}
