package stats

import (
	"context"
	"time"
)

// Async moves recording off the request path. Record enqueues and returns
// immediately; when the queue is full the event is dropped and OnDrop fires.
type Async struct {
	next    Recorder
	queue   chan Event
	timeout time.Duration

	// OnDrop is called when an event is dropped because the queue is full
	OnDrop func()
	// OnError is called when the wrapped recorder fails
	OnError func(err error)
}

// NewAsync wraps next with a queue of the given size. Call Run to start draining.
func NewAsync(next Recorder, size int) *Async {
	if size < 1 {
		size = 1
	}
	return &Async{
		next:    next,
		queue:   make(chan Event, size),
		timeout: 2 * time.Second,
	}
}

func (a *Async) Record(_ context.Context, ev Event) error {
	select {
	case a.queue <- ev:
	default:
		if a.OnDrop != nil {
			a.OnDrop()
		}
	}
	return nil
}

// Run drains the queue into the wrapped recorder until ctx is done, then
// flushes whatever is already queued.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			a.write(context.WithoutCancel(ctx), ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.queue:
					a.write(context.WithoutCancel(ctx), ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) write(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.next.Record(ctx, ev); err != nil && a.OnError != nil {
		a.OnError(err)
	}
}
