// Package dispatch runs pipeline jobs on a bounded worker pool. The
// asynchronous submit path hands jobs here and returns immediately;
// completion is never reported back to the submitting caller, only
// observable through subsequent cache and record state (and through the
// optional completion hook, which exists for logging and tests).
package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/internal/processor"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// ErrQueueFull is returned when the job queue has no room. The caller
// already cached a processing placeholder, so a rejected job simply means
// the identity becomes reprocessable after the placeholder expires.
var ErrQueueFull = errors.New("dispatch queue full")

// Runner is the pipeline contract the dispatcher drives.
type Runner interface {
	Process(ctx context.Context, job processor.Job) (*imagecache.Result, error)
}

// Dispatcher owns a fixed pool of workers draining a bounded queue.
type Dispatcher struct {
	pipeline Runner
	jobs     chan processor.Job
	workers  int

	// onDone, when set, observes every completed job. It runs on the
	// worker goroutine; submitters never wait on it.
	onDone func(job processor.Job, result *imagecache.Result, err error)

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker count and
// queue capacity.
func NewDispatcher(pipeline Runner, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}
	return &Dispatcher{
		pipeline: pipeline,
		jobs:     make(chan processor.Job, queueSize),
		workers:  workers,
	}
}

// OnDone installs a completion hook. Must be called before Start.
func (d *Dispatcher) OnDone(fn func(job processor.Job, result *imagecache.Result, err error)) {
	d.onDone = fn
}

// Start launches the worker pool. Jobs run under context.Background():
// a dispatched job outlives the request that submitted it.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		log.Printf("Dispatcher started with %d workers (queue capacity %d)", d.workers, cap(d.jobs))
	})
}

// Dispatch enqueues a job without blocking. Returns ErrQueueFull when the
// queue has no room.
func (d *Dispatcher) Dispatch(job processor.Job) error {
	select {
	case d.jobs <- job:
		return nil
	default:
		metrics.DispatchRejected.Inc()
		return ErrQueueFull
	}
}

// Stop stops accepting jobs, drains the queue and waits for in-flight
// work to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for job := range d.jobs {
		result, err := d.pipeline.Process(context.Background(), job)
		if err != nil {
			log.Printf("[%s] Async pipeline failed for %s/%s: %v", job.RunID, job.Key.Hash, job.Key.Sig, err)
		}
		if d.onDone != nil {
			d.onDone(job, result, err)
		}
	}
}
