package tracker

import (
	"sync"

	"github.com/oberliner3/jhnyc-sub000/metrics"
	"github.com/oberliner3/jhnyc-sub000/models"
)

// QueueState is where the queue is in its empty → accumulating → flushing cycle.
type QueueState int

const (
	StateEmpty QueueState = iota
	StateAccumulating
	StateFlushing
)

func (s QueueState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

type queuedEvent struct {
	event    models.TrackingEvent
	attempts int
}

// Queue buffers enriched events in capture order.
type Queue struct {
	mu       sync.Mutex
	items    []queuedEvent
	max      int
	flushing bool
}

// NewQueue returns a queue holding at most max events (0 means unbounded).
func NewQueue(max int) *Queue {
	return &Queue{max: max}
}

// Push appends an event and returns the new length. When the queue is full
// the oldest event is dropped.
func (q *Queue) Push(ev models.TrackingEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queuedEvent{event: ev})
	q.trimLocked()
	return len(q.items)
}

// Drain takes every queued event, leaving the queue empty and flushing.
func (q *Queue) Drain() []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.flushing = true
	return items
}

// Requeue puts failed events back at the head in their original order.
// Each event's attempt count is bumped; events that reached maxRetries are
// dropped and counted.
func (q *Queue) Requeue(items []queuedEvent, maxRetries int) (dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]queuedEvent, 0, len(items)+len(q.items))
	for _, it := range items {
		it.attempts++
		if maxRetries > 0 && it.attempts >= maxRetries {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	if dropped > 0 {
		metrics.TrackerEventsDropped.WithLabelValues("max_retries").Add(float64(dropped))
	}
	q.items = append(kept, q.items...)
	q.flushing = false
	return dropped + q.trimLocked()
}

// Done marks the end of a flush.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushing = false
}

func (q *Queue) trimLocked() int {
	if q.max <= 0 || len(q.items) <= q.max {
		return 0
	}
	over := len(q.items) - q.max
	q.items = append([]queuedEvent(nil), q.items[over:]...)
	metrics.TrackerEventsDropped.WithLabelValues("overflow").Add(float64(over))
	return over
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.flushing:
		return StateFlushing
	case len(q.items) == 0:
		return StateEmpty
	default:
		return StateAccumulating
	}
}

// Events returns a copy of the queued events.
func (q *Queue) Events() []models.TrackingEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.TrackingEvent, len(q.items))
	for i, it := range q.items {
		out[i] = it.event
	}
	return out
}
