// Package processor runs the transform-and-persist pipeline for one
// content key. It is the only writer of ready state to the record store
// and the cache; the facade decides whether to run it, the pipeline does
// the work.
package processor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-image-cache/internal/cache"
	"github.com/tendant/simple-image-cache/internal/identity"
	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/internal/objectstore"
	"github.com/tendant/simple-image-cache/internal/record"
	"github.com/tendant/simple-image-cache/internal/transform"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Job is one unit of pipeline work: an identity, the raw bytes, the
// normalized crop, and an optional lock key to release on completion.
type Job struct {
	Key     identity.ContentKey
	Data    []byte
	Crop    imagecache.NormalizedCrop
	LockKey string
	RunID   string
}

// Pipeline executes transform -> upload -> upsert -> presign -> cache for
// one job. Any failed step aborts the run; the lock is released either way.
type Pipeline struct {
	engine  transform.Engine
	objects objectstore.Store
	records record.Gateway
	cache   cache.Store

	cacheTTL     time.Duration
	signedURLTTL time.Duration
}

// NewPipeline creates a Pipeline with the given collaborators and TTLs.
func NewPipeline(engine transform.Engine, objects objectstore.Store, records record.Gateway,
	cacheStore cache.Store, cacheTTL, signedURLTTL time.Duration) *Pipeline {
	return &Pipeline{
		engine:       engine,
		objects:      objects,
		records:      records,
		cache:        cacheStore,
		cacheTTL:     cacheTTL,
		signedURLTTL: signedURLTTL,
	}
}

// Process runs the pipeline for one job and returns the ready payload.
// The job's lock key, if any, is released regardless of outcome; a failed
// release is logged and left for TTL expiry.
func (p *Pipeline) Process(ctx context.Context, job Job) (*imagecache.Result, error) {
	runID := job.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	start := time.Now()
	var failed bool
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		if failed {
			metrics.PipelineRuns.WithLabelValues("failure").Inc()
		} else {
			metrics.PipelineRuns.WithLabelValues("success").Inc()
		}

		if job.LockKey != "" {
			if err := p.cache.Unlock(ctx, job.LockKey); err != nil {
				log.Printf("[%s] Failed to release lock %s (will expire by TTL): %v", runID, job.LockKey, err)
			}
		}
	}()

	log.Printf("[%s] Starting pipeline for %s/%s", runID, job.Key.Hash, job.Key.Sig)

	// Step 1: decode, auto-orient, crop, re-encode
	outBytes, width, height, err := p.engine.Transform(job.Data, job.Crop)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("%w: transform: %v", imagecache.ErrProcessingFailed, err)
	}
	log.Printf("[%s] Transformed to %dx%d %s, %d bytes", runID, width, height, job.Crop.Format, len(outBytes))

	// Step 2: upload to the object store
	objectKey := job.Key.ObjectKey(job.Crop.Format)
	mime := job.Crop.MIME()
	if err := p.objects.Put(ctx, objectKey, outBytes, mime); err != nil {
		failed = true
		return nil, fmt.Errorf("%w: upload: %v", imagecache.ErrProcessingFailed, err)
	}

	// Step 3: atomic upsert of the durable record (version 1 on create,
	// +1 on every reprocessing)
	rec, err := p.records.UpsertReady(ctx, job.Key.Hash, job.Key.Sig, record.ReadyAttrs{
		Bucket:    p.objects.Bucket(),
		Key:       objectKey,
		Width:     width,
		Height:    height,
		MIME:      mime,
		SizeBytes: int64(len(outBytes)),
	})
	if err != nil {
		failed = true
		return nil, fmt.Errorf("%w: record upsert: %v", imagecache.ErrProcessingFailed, err)
	}

	// Step 4: time-limited retrieval URL
	url, err := p.objects.PresignGet(ctx, objectKey, p.signedURLTTL)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("%w: presign: %v", imagecache.ErrProcessingFailed, err)
	}

	payload := &imagecache.Result{
		Status:         imagecache.StatusReady,
		ID:             rec.ID,
		Bucket:         rec.Bucket,
		Key:            rec.Key,
		Hash:           job.Key.Hash,
		Sig:            job.Key.Sig,
		Width:          rec.Width,
		Height:         rec.Height,
		MIME:           rec.MIME,
		Size:           rec.SizeBytes,
		Version:        rec.Version,
		URL:            url,
		LastVerifiedAt: time.Now().Unix(),
	}

	// Step 5: write the ready payload to the cache
	if err := p.cache.Set(ctx, job.Key.CacheKey(), payload, p.cacheTTL); err != nil {
		failed = true
		return nil, fmt.Errorf("%w: cache write: %v", imagecache.ErrProcessingFailed, err)
	}

	log.Printf("[%s] Pipeline completed: %s/%s version=%d", runID, job.Key.Hash, job.Key.Sig, rec.Version)
	return payload, nil
}
