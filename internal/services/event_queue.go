package services

import (
	"sync"

	"github.com/temcen/searchrank/pkg/models"
)

// EventQueue is an unbounded FIFO with a single consumer. It counts events
// from Push until the consumer calls Done so a drain can wait for in-flight
// work as well as queued work.
type EventQueue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	items   []models.Event
	head    int
	pending int
	ready   chan struct{}
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{ready: make(chan struct{}, 1)}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Push never blocks on the consumer.
func (q *EventQueue) Push(event models.Event) int {
	q.mu.Lock()
	q.items = append(q.items, event)
	q.pending++
	depth := len(q.items) - q.head
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return depth
}

func (q *EventQueue) Pop() (models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return models.Event{}, false
	}
	event := q.items[q.head]
	q.items[q.head] = models.Event{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]models.Event(nil), q.items[q.head:]...)
		q.head = 0
	}
	return event, true
}

// Done marks one popped event as fully handled.
func (q *EventQueue) Done() {
	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

// Len is the number of events not yet popped.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Ready fires after a Push. It is buffered, so a consumer must drain with
// Pop until empty after each wake-up.
func (q *EventQueue) Ready() <-chan struct{} {
	return q.ready
}

// WaitIdle blocks until every pushed event is Done, then runs fn while still
// holding the queue lock so no Push can slip in between.
func (q *EventQueue) WaitIdle(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	if fn != nil {
		fn()
	}
}
