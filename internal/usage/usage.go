// Package usage is the Usage Recorder (C7): an append-only write-behind
// queue that records completed requests without ever blocking the request
// hot path (§4.7).
//
// Grounded on the teacher's RmqRecordSlidingWindow
// (pkg/model-controller/autoscaler/datastructure/sliding_window.go), which
// keeps a `gammazero/deque` ring of timestamped samples behind a mutex and
// trims expired entries on every append; CORTEX adapts the same
// mutex-guarded deque shape to a drop-oldest write-behind queue instead of
// a time-windowed read structure.
package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/gateway"
)

// Store persists usage events durably and trims old ones on a retention
// schedule.
type Store interface {
	Insert(ctx context.Context, ev gateway.UsageEvent) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Recorder buffers gateway.UsageEvent values in process memory and drains
// them with a small worker pool, retrying durable-store failures with
// exponential backoff and dropping the oldest entry on overflow (§4.7).
type Recorder struct {
	mu      sync.Mutex
	buf     deque.Deque[gateway.UsageEvent]
	maxLen  int
	dropped atomic.Int64

	store      Store
	workers    int
	pollEvery  time.Duration
	maxRetries int
	baseBackoff time.Duration

	log *logrus.Entry
}

// Config controls queue depth and worker concurrency.
type Config struct {
	QueueCapacity int
	Workers       int
	PollInterval  time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
}

// NewRecorder constructs a Recorder. Zero-valued Config fields fall back
// to conservative defaults.
func NewRecorder(store Store, cfg Config, log *logrus.Entry) *Recorder {
	return &Recorder{
		maxLen:      orIntDefault(cfg.QueueCapacity, 10_000),
		store:       store,
		workers:     orIntDefault(cfg.Workers, 4),
		pollEvery:   orDurDefault(cfg.PollInterval, 20*time.Millisecond),
		maxRetries:  orIntDefault(cfg.MaxRetries, 5),
		baseBackoff: orDurDefault(cfg.BaseBackoff, 100*time.Millisecond),
		log:         log,
	}
}

func orIntDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDurDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

// Record enqueues ev without blocking. When the queue is already at
// capacity, the oldest entry is dropped and DroppedCount is incremented
// (§4.7: "on overflow the oldest entries are dropped and a counter is
// incremented").
func (r *Recorder) Record(ev gateway.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() >= r.maxLen {
		r.buf.PopFront()
		r.dropped.Add(1)
	}
	r.buf.PushBack(ev)
}

// DroppedCount reports how many events have been dropped for overflow
// since startup.
func (r *Recorder) DroppedCount() int64 {
	return r.dropped.Load()
}

// QueueLen reports the current number of buffered, not-yet-persisted
// events.
func (r *Recorder) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Start launches the worker pool that drains the queue. It returns
// immediately; workers stop when ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		go r.workerLoop(ctx)
	}
}

func (r *Recorder) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for r.drainOne(ctx) {
				// keep draining while entries are queued, so a burst of
				// enqueues after an idle period is not throttled to one
				// per tick
			}
		}
	}
}

// drainOne pops and persists a single queued event, reporting whether one
// was available.
func (r *Recorder) drainOne(ctx context.Context) bool {
	r.mu.Lock()
	if r.buf.Len() == 0 {
		r.mu.Unlock()
		return false
	}
	ev := r.buf.PopFront()
	r.mu.Unlock()

	r.persistWithRetry(ctx, ev)
	return true
}

func (r *Recorder) persistWithRetry(ctx context.Context, ev gateway.UsageEvent) {
	backoff := r.baseBackoff
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := r.store.Insert(ctx, ev); err == nil {
			return
		} else if attempt == r.maxRetries {
			r.log.WithError(err).WithField("request_id", ev.RequestID).
				Error("usage record permanently failed to persist")
			return
		} else {
			r.log.WithError(err).WithField("request_id", ev.RequestID).
				Warn("usage record insert failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
}
