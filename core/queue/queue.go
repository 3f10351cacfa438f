// Package queue holds the FIFO of tracks waiting to be streamed.
package queue

import (
	"context"
	"sync"

	"Boombot/model"
)

// TrackQueue is a thread-safe FIFO. Push never blocks; Pop blocks until a
// track is available. There is a single consumer, the feeder.
//
// Len is not atomic with respect to a concurrent Push from another goroutine.
// Callers that derive a queue position from it (the dispatcher) must be the
// only producer for the number to be exact.
type TrackQueue struct {
	mu     sync.Mutex
	items  []*model.Track
	notify chan struct{} // Signalled when items becomes non-empty
}

// New creates an empty queue.
func New() *TrackQueue {
	return &TrackQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends t to the tail of the queue.
func (q *TrackQueue) Push(t *model.Track) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the head of the queue without blocking.
func (q *TrackQueue) TryPop() (*model.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

// Pop removes and returns the head of the queue, blocking until one is
// available or ctx is done.
func (q *TrackQueue) Pop(ctx context.Context) (*model.Track, error) {
	for {
		if t, ok := q.TryPop(); ok {
			return t, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued tracks.
func (q *TrackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued tracks in play order.
func (q *TrackQueue) Snapshot() []model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Track, len(q.items))
	for i, t := range q.items {
		out[i] = *t
		out[i].Payload = nil
	}
	return out
}
