package audit

import (
	"context"
	"sync"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/obs"
)

const defaultQueueSize = 1024

// Recorder decouples decision latency from storage-write latency. Record is
// non-blocking and best-effort; RecordSync writes through for entries
// administrators rely on for compliance review. Neither ever returns an error
// to the caller.
type Recorder struct {
	store Store
	now   func() time.Time

	queue   chan Entry
	pending sync.WaitGroup

	// mu orders Record against Close so a late Record drops instead of
	// sending on the closed queue
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder starts the background writer.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
		queue: make(chan Entry, defaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.writeLoop()
	return r
}

func (r *Recorder) writeLoop() {
	for e := range r.queue {
		r.append(e)
		r.pending.Done()
		obs.SetAuditQueueDepth(len(r.queue))
	}
	close(r.done)
}

func (r *Recorder) append(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		obs.LogEvent(map[string]any{
			"level":    "error",
			"msg":      "audit append failed",
			"entry_id": e.ID,
			"type":     string(e.Type),
			"error":    err.Error(),
		})
	}
}

// Record enqueues an entry for the background writer. If the queue is full or
// the recorder has been closed the entry is dropped and counted; the
// triggering decision stands either way.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	e = normalize(ctx, e, r.now())
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		obs.CountAuditDropped()
		obs.LogEvent(map[string]any{
			"level": "warn",
			"msg":   "audit recorder closed, entry dropped",
			"type":  string(e.Type),
		})
		return
	}
	r.pending.Add(1)
	select {
	case r.queue <- e:
		obs.SetAuditQueueDepth(len(r.queue))
	default:
		r.pending.Done()
		obs.CountAuditDropped()
		obs.LogEvent(map[string]any{
			"level": "warn",
			"msg":   "audit queue full, entry dropped",
			"type":  string(e.Type),
		})
	}
}

// RecordSync writes the entry before returning. Used for administrative
// mutations where reviewers expect the entry to be durable once the mutation
// reports success. A write failure is reported operationally, never returned.
func (r *Recorder) RecordSync(ctx context.Context, e Entry) {
	r.append(normalize(ctx, e, r.now()))
}

// Flush waits until every queued entry has been handed to the store, or until
// ctx expires.
func (r *Recorder) Flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query exposes the administrative review surface; not in the hot path.
func (r *Recorder) Query(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	return r.store.Query(ctx, f, limit)
}

// Close drains the queue and stops the writer.
func (r *Recorder) Close(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
