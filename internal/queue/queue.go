// Package queue implements the single-in-flight request queue that feeds the
// snapshot pipeline, plus an adapter letting producers wait for results.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidOperation signals a queue protocol violation: dequeuing while a
// request is in flight, acknowledging a request that is not in flight, or
// restoring state onto a non-empty queue. It always indicates a bug in the
// caller, never a data problem.
var ErrInvalidOperation = errors.New("invalid operation")

// Request is anything with a stable identity.
type Request interface {
	RequestID() uuid.UUID
}

// State is a point-in-time copy of a queue used to survive restarts.
type State[T Request] struct {
	Pending  []T `json:"pending"`
	InFlight *T  `json:"in_flight,omitempty"`
}

// IsEmpty reports whether the state carries no work.
func (s State[T]) IsEmpty() bool {
	return len(s.Pending) == 0 && s.InFlight == nil
}

// Stats are monotonic counters exposed for the status endpoint.
type Stats struct {
	Enqueued      uint64 `json:"enqueued"`
	Acknowledged  uint64 `json:"acknowledged"`
	Rejected      uint64 `json:"rejected"`
	LastRejection string `json:"last_rejection,omitempty"`
}

// RequestQueue is a FIFO queue with at most one request in flight.
// A dequeued request must be acknowledged or rejected before the next one
// can be dequeued, so exactly one consumer works on one request at a time.
type RequestQueue[T Request] struct {
	mu       sync.Mutex
	pending  []T
	inFlight *T
	stats    Stats
	ready    chan struct{}
}

func New[T Request]() *RequestQueue[T] {
	return &RequestQueue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends item to the tail. Never blocks.
func (q *RequestQueue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.stats.Enqueued++
	q.mu.Unlock()

	q.signal()
}

// Ready is signalled (coalesced) whenever new work may be available.
func (q *RequestQueue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Dequeue moves the head request into the in-flight slot.
// Returns ok=false when the queue is empty.
func (q *RequestQueue[T]) Dequeue() (item T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != nil {
		return item, false, fmt.Errorf("%w: request %s is already in flight",
			ErrInvalidOperation, (*q.inFlight).RequestID())
	}
	if len(q.pending) == 0 {
		return item, false, nil
	}

	item = q.pending[0]
	var zero T
	q.pending[0] = zero
	q.pending = q.pending[1:]
	q.inFlight = &item
	return item, true, nil
}

// Acknowledge completes the in-flight request.
func (q *RequestQueue[T]) Acknowledge(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkInFlight(id); err != nil {
		return err
	}
	q.inFlight = nil
	q.stats.Acknowledged++
	q.signalLocked()
	return nil
}

// Reject fails the in-flight request. The request is discarded, not retried.
func (q *RequestQueue[T]) Reject(id uuid.UUID, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkInFlight(id); err != nil {
		return err
	}
	q.inFlight = nil
	q.stats.Rejected++
	if reason != nil {
		q.stats.LastRejection = reason.Error()
	}
	q.signalLocked()
	return nil
}

func (q *RequestQueue[T]) checkInFlight(id uuid.UUID) error {
	if q.inFlight == nil {
		return fmt.Errorf("%w: no request in flight (got %s)", ErrInvalidOperation, id)
	}
	if current := (*q.inFlight).RequestID(); current != id {
		return fmt.Errorf("%w: request %s is in flight, not %s", ErrInvalidOperation, current, id)
	}
	return nil
}

// Len returns the number of pending (not in-flight) requests.
func (q *RequestQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the in-flight request, if any.
func (q *RequestQueue[T]) InFlight() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == nil {
		var zero T
		return zero, false
	}
	return *q.inFlight, true
}

func (q *RequestQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// CaptureState copies the queue content for persistence before shutdown.
func (q *RequestQueue[T]) CaptureState() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := State[T]{Pending: append([]T(nil), q.pending...)}
	if q.inFlight != nil {
		item := *q.inFlight
		s.InFlight = &item
	}
	return s
}

// RestoreState loads a captured state into an empty queue. A previously
// in-flight request goes back to the head of the pending list so it is
// processed again (at-least-once across restarts).
func (q *RequestQueue[T]) RestoreState(s State[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) > 0 || q.inFlight != nil {
		return fmt.Errorf("%w: restore onto non-empty queue (pending=%d, in_flight=%t)",
			ErrInvalidOperation, len(q.pending), q.inFlight != nil)
	}

	restored := make([]T, 0, len(s.Pending)+1)
	if s.InFlight != nil {
		restored = append(restored, *s.InFlight)
	}
	restored = append(restored, s.Pending...)
	q.pending = restored
	q.signalLocked()
	return nil
}

func (q *RequestQueue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *RequestQueue[T]) signalLocked() {
	if len(q.pending) > 0 {
		q.signal()
	}
}
