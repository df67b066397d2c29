// Package facade is the submit/lookup state machine tying together the
// identity deriver, the cache, the distributed lock, the record store and
// the processing pipeline. It decides whether to process; the pipeline
// package does the processing.
package facade

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-image-cache/internal/cache"
	"github.com/tendant/simple-image-cache/internal/config"
	"github.com/tendant/simple-image-cache/internal/identity"
	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/internal/objectstore"
	"github.com/tendant/simple-image-cache/internal/processor"
	"github.com/tendant/simple-image-cache/internal/record"
	"github.com/tendant/simple-image-cache/internal/transform"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// PipelineRunner is the inline-processing contract (synchronous mode).
type PipelineRunner interface {
	Process(ctx context.Context, job processor.Job) (*imagecache.Result, error)
}

// Dispatcher is the non-blocking dispatch contract (asynchronous mode).
type Dispatcher interface {
	Dispatch(job processor.Job) error
}

// Orchestrator implements the two public operations: submit-and-get and
// get-by-identity.
type Orchestrator struct {
	cache      cache.Store
	records    record.Gateway
	objects    objectstore.Store
	engine     transform.Engine
	pipeline   PipelineRunner
	dispatcher Dispatcher
	cfg        *config.Config
}

// NewOrchestrator wires the orchestrator. The dispatcher may be nil when
// asynchronous mode is never used.
func NewOrchestrator(cacheStore cache.Store, records record.Gateway, objects objectstore.Store,
	engine transform.Engine, pipeline PipelineRunner, dispatcher Dispatcher, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		cache:      cacheStore,
		records:    records,
		objects:    objects,
		engine:     engine,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Submit accepts raw image bytes plus crop parameters, derives the content
// key, and returns either the cached/processed ready payload or a
// processing placeholder, depending on mode and cache state. An empty mode
// falls back to the configured default.
func (o *Orchestrator) Submit(ctx context.Context, data []byte, params imagecache.CropParams, mode imagecache.Mode) (*imagecache.Result, error) {
	if mode == "" {
		mode = o.cfg.Mode
	}

	// Validation needs the real decoded dimensions; no store is touched
	// before this passes.
	norm, err := o.normalizeAndValidate(data, params)
	if err != nil {
		return nil, err
	}

	key := identity.Derive(data, norm)
	cacheKey := key.CacheKey()
	lockKey := key.LockKey()

	// Cache probe. Unavailability degrades to a miss.
	cached, found, err := o.cache.Get(ctx, cacheKey)
	if err != nil {
		log.Printf("Cache read failed for %s, falling back to processing: %v", cacheKey, err)
	}
	if found && cached.Status == imagecache.StatusReady {
		metrics.CacheHits.Inc()
		o.touchEntry(ctx, cacheKey)
		return cached, nil
	}
	if found && cached.Status == imagecache.StatusProcessing && mode == imagecache.ModeAsync {
		metrics.CacheHits.Inc()
		return o.processingResult(key, norm), nil
	}
	metrics.CacheMisses.Inc()

	// Lock attempt. A lock-store outage surfaces; it must never be
	// mistaken for a successful acquisition.
	locked, err := o.cache.TryLock(ctx, lockKey, o.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		metrics.LockContention.Inc()
	}

	if mode == imagecache.ModeSync && !locked {
		locked, err = o.pollLock(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		if !locked && o.cfg.DedupMode == imagecache.DedupStrict {
			return nil, fmt.Errorf("%w: %s", imagecache.ErrLockBusy, lockKey)
		}
		// Lenient mode proceeds without the lock: availability wins
		// over strict dedup under heavy contention.
	}

	releaseLock := func() {
		if !locked {
			return
		}
		if err := o.cache.Unlock(ctx, lockKey); err != nil {
			log.Printf("Failed to release lock %s (will expire by TTL): %v", lockKey, err)
		}
	}

	if mode == imagecache.ModeSync {
		defer releaseLock()

		o.markKnown(ctx, key.Hash)
		return o.pipeline.Process(ctx, processor.Job{
			Key:   key,
			Data:  data,
			Crop:  norm,
			RunID: uuid.New().String(),
		})
	}

	// Asynchronous mode: cache a short-lived placeholder, record the
	// identity, dispatch without waiting. The dispatched job carries the
	// lock key and releases it when it finishes; the release below only
	// covers exits before dispatch succeeds.
	if err := o.cache.Set(ctx, cacheKey, &imagecache.Result{Status: imagecache.StatusProcessing}, o.cfg.PlaceholderTTL); err != nil {
		releaseLock()
		return nil, fmt.Errorf("%w: placeholder write: %v", imagecache.ErrStoreUnavailable, err)
	}
	if err := o.records.MarkProcessing(ctx, key.Hash, key.Sig); err != nil {
		releaseLock()
		return nil, fmt.Errorf("%w: mark processing: %v", imagecache.ErrStoreUnavailable, err)
	}
	o.markKnown(ctx, key.Hash)

	runID := uuid.New().String()
	if err := o.dispatcher.Dispatch(processor.Job{
		Key:     key,
		Data:    data,
		Crop:    norm,
		LockKey: lockKey,
		RunID:   runID,
	}); err != nil {
		// The placeholder stays until its TTL expires, after which the
		// identity is reprocessable. The caller still gets a processing
		// result; async submissions never surface pipeline-side failures.
		log.Printf("[%s] Dispatch rejected for %s/%s: %v", runID, key.Hash, key.Sig, err)
		releaseLock()
	}

	return o.processingResult(key, norm), nil
}

// Lookup returns the state of an identity: the cache entry verbatim on a
// hit, the durable record (repopulating the cache) for known hashes, or a
// bare processing result. Unknown and in-flight identities are deliberately
// indistinguishable to callers.
func (o *Orchestrator) Lookup(ctx context.Context, hash, sig string) (*imagecache.Result, error) {
	key := identity.ContentKey{Hash: hash, Sig: sig}
	cacheKey := key.CacheKey()

	cached, found, err := o.cache.Get(ctx, cacheKey)
	if err != nil {
		log.Printf("Cache read failed for %s, falling back to record store: %v", cacheKey, err)
	}
	if found {
		metrics.CacheHits.Inc()
		if cached.Status == imagecache.StatusReady {
			o.touchEntry(ctx, cacheKey)
		}
		return cached, nil
	}
	metrics.CacheMisses.Inc()

	known, err := o.cache.IsKnown(ctx, hash)
	if err != nil {
		// The durable lookup can still answer correctly, so a failed
		// known-set check degrades to "known" rather than to a miss.
		log.Printf("Known-hash check failed for %s, querying record store anyway: %v", hash, err)
		known = true
	}
	if !known {
		return &imagecache.Result{Status: imagecache.StatusProcessing}, nil
	}

	rec, err := o.records.FindByKey(ctx, hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: record lookup: %v", imagecache.ErrStoreUnavailable, err)
	}
	if rec == nil || rec.Status != imagecache.StatusReady {
		return &imagecache.Result{Status: imagecache.StatusProcessing}, nil
	}

	url, err := o.objects.PresignGet(ctx, rec.Key, o.cfg.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: presign: %v", imagecache.ErrStoreUnavailable, err)
	}

	payload := &imagecache.Result{
		Status:         imagecache.StatusReady,
		ID:             rec.ID,
		Bucket:         rec.Bucket,
		Key:            rec.Key,
		Hash:           rec.Hash,
		Sig:            rec.Sig,
		Width:          rec.Width,
		Height:         rec.Height,
		MIME:           rec.MIME,
		Size:           rec.SizeBytes,
		Version:        rec.Version,
		URL:            url,
		LastVerifiedAt: time.Now().Unix(),
	}

	if err := o.cache.Set(ctx, cacheKey, payload, o.cfg.CacheTTL); err != nil {
		log.Printf("Cache repopulation failed for %s: %v", cacheKey, err)
	}
	return payload, nil
}

// normalizeAndValidate resolves defaults and checks the crop box against
// the decoded image dimensions.
func (o *Orchestrator) normalizeAndValidate(data []byte, params imagecache.CropParams) (imagecache.NormalizedCrop, error) {
	if len(data) == 0 {
		return imagecache.NormalizedCrop{}, fmt.Errorf("%w: empty input", imagecache.ErrUnsupportedImage)
	}

	width, height, err := o.engine.Metadata(data)
	if err != nil {
		return imagecache.NormalizedCrop{}, err
	}

	norm := params.Normalize()
	if norm.X < 0 || norm.Y < 0 || norm.W < 1 || norm.H < 1 ||
		norm.X+norm.W > width || norm.Y+norm.H > height {
		return imagecache.NormalizedCrop{}, fmt.Errorf("%w: %dx%d+%d+%d on %dx%d source",
			imagecache.ErrInvalidCrop, norm.W, norm.H, norm.X, norm.Y, width, height)
	}
	return norm, nil
}

// pollLock retries lock acquisition a bounded number of times with a fixed
// delay, waiting cooperatively between attempts.
func (o *Orchestrator) pollLock(ctx context.Context, lockKey string) (bool, error) {
	for i := 0; i < o.cfg.LockPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(o.cfg.LockPollDelay):
		}

		locked, err := o.cache.TryLock(ctx, lockKey, o.cfg.LockTTL)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
	}
	return false, nil
}

// touchEntry slides the TTL of a ready cache entry on a hit. Best-effort.
func (o *Orchestrator) touchEntry(ctx context.Context, cacheKey string) {
	if err := o.cache.Touch(ctx, cacheKey, o.cfg.CacheTTL); err != nil {
		log.Printf("Failed to refresh TTL for %s: %v", cacheKey, err)
	}
}

// markKnown records the hash in the known-identity set. Best-effort: a
// miss here only costs lookup a durable-store round trip later.
func (o *Orchestrator) markKnown(ctx context.Context, hash string) {
	if err := o.cache.MarkKnown(ctx, hash); err != nil {
		log.Printf("Failed to mark hash %s as known: %v", hash, err)
	}
}

func (o *Orchestrator) processingResult(key identity.ContentKey, norm imagecache.NormalizedCrop) *imagecache.Result {
	return &imagecache.Result{
		Status: imagecache.StatusProcessing,
		Hash:   key.Hash,
		Sig:    key.Sig,
		Key:    key.ObjectKey(norm.Format),
	}
}
