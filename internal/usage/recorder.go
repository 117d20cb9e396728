// Package usage persists request outcomes off the request path. Recording
// is best effort: entries may be dropped under back-pressure or lost on a
// crash, and write failures never reach the client.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/storage"
)

const (
	DefaultQueueSize    = 1024
	DefaultWorkers      = 2
	DefaultWriteTimeout = 5 * time.Second
)

// Store is the write side the recorder needs.
type Store interface {
	RecordUsage(ctx context.Context, entry *model.UsageLogEntry) error
}

// Options tunes the recorder. Zero fields take the package defaults.
type Options struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// Recorder queues usage entries and writes them from a fixed worker pool.
type Recorder struct {
	store        Store
	logger       *slog.Logger
	queue        chan model.UsageLogEntry
	writeTimeout time.Duration

	mu     sync.RWMutex // guards closed against sends on a closed queue
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
}

// New creates a Recorder and starts its workers.
func New(store Store, logger *slog.Logger, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:        store,
		logger:       logger,
		queue:        make(chan model.UsageLogEntry, opts.QueueSize),
		writeTimeout: opts.WriteTimeout,
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record enqueues entry and returns immediately. It reports false when the
// entry was dropped because the queue is full or the recorder is closed.
func (r *Recorder) Record(entry model.UsageLogEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(entry, "closed")
		return false
	}
	select {
	case r.queue <- entry:
		metrics.UsageQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		r.drop(entry, "queue full")
		return false
	}
}

func (r *Recorder) drop(entry model.UsageLogEntry, reason string) {
	n := r.dropped.Add(1)
	metrics.UsageDroppedTotal.Inc()
	// Log the first drop and then every thousandth to keep bursts quiet.
	if n == 1 || n%1000 == 0 {
		r.logger.Warn("usage entry dropped",
			"reason", reason,
			"key_id", entry.KeyID,
			"endpoint", entry.Endpoint,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many entries were discarded without being written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for entry := range r.queue {
		metrics.UsageQueueDepth.Set(float64(len(r.queue)))
		r.write(entry)
	}
}

func (r *Recorder) write(entry model.UsageLogEntry) {
	defer func() {
		if v := recover(); v != nil {
			metrics.UsageWritesTotal.WithLabelValues("error").Inc()
			r.logger.Error("usage write panicked", "key_id", entry.KeyID, "panic", v)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	err := r.store.RecordUsage(ctx, &entry)
	switch {
	case err == nil:
		metrics.UsageWritesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, storage.ErrNotFound):
		// The key was deleted after the request was admitted.
		metrics.UsageWritesTotal.WithLabelValues("orphaned").Inc()
		r.logger.Debug("usage entry for deleted key discarded", "key_id", entry.KeyID)
	default:
		metrics.UsageWritesTotal.WithLabelValues("error").Inc()
		r.logger.Error("usage write failed", "key_id", entry.KeyID, "endpoint", entry.Endpoint, "error", err)
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to
// end, whichever comes first. Workers keep draining after a ctx timeout.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
