package audit

import (
	"context"
	"sync"
	"time"
)

// Store is the persistence sink for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

// Recorder buffers events on a channel and persists them from a background
// worker, so domain code never blocks on the audit sink. If the buffer fills,
// the event is dropped rather than stalling a callback.
type Recorder struct {
	store  Store
	inbox  chan Event
	once   sync.Once
	closed chan struct{}
}

func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		store:  store,
		inbox:  make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// Record enqueues an event. Never blocks.
func (r *Recorder) Record(action Action, subject, reason string) {
	event := Event{
		Timestamp: time.Now(),
		Action:    action,
		Subject:   subject,
		Reason:    reason,
	}
	select {
	case r.inbox <- event:
	default:
	}
}

// Run drains the inbox until ctx is cancelled, then flushes what is queued.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.closed) })
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case event := <-r.inbox:
			_ = r.store.Append(ctx, event)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case event := <-r.inbox:
			_ = r.store.Append(context.Background(), event)
		default:
			return
		}
	}
}

// Done is closed once the worker has stopped.
func (r *Recorder) Done() <-chan struct{} { return r.closed }

// Events returns the persisted trail for one subject. Events still buffered
// in the inbox are not included until the worker drains them.
func (r *Recorder) Events(ctx context.Context, subject string) ([]Event, error) {
	return r.store.ListBySubject(ctx, subject)
}
