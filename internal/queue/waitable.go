package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// completion is shared by every waiter on the same request id.
type completion[R any] struct {
	done    chan struct{}
	result  R
	err     error
	waiters int
}

// WaitableQueue wraps a RequestQueue so producers can block until their
// request is acknowledged or rejected.
type WaitableQueue[T Request, R any] struct {
	inner *RequestQueue[T]

	mu      sync.Mutex
	pending map[uuid.UUID]*completion[R]
}

func NewWaitable[T Request, R any](inner *RequestQueue[T]) *WaitableQueue[T, R] {
	return &WaitableQueue[T, R]{
		inner:   inner,
		pending: make(map[uuid.UUID]*completion[R]),
	}
}

// EnqueueAndWait enqueues req and blocks until it is acknowledged, rejected,
// or ctx is done. Concurrent calls with the same request id attach to the
// first registration instead of enqueuing a duplicate.
//
// Cancelling ctx only detaches this caller: the request stays queued (or in
// flight) and will still be processed.
func (w *WaitableQueue[T, R]) EnqueueAndWait(ctx context.Context, req T) (R, error) {
	id := req.RequestID()

	w.mu.Lock()
	c, exists := w.pending[id]
	if !exists {
		c = &completion[R]{done: make(chan struct{})}
		w.pending[id] = c
	}
	c.waiters++
	w.mu.Unlock()

	defer w.detach(id, c)

	if !exists {
		w.inner.Enqueue(req)
	}

	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// detach drops one waiter and forgets the completion once nobody waits on it.
func (w *WaitableQueue[T, R]) detach(id uuid.UUID, c *completion[R]) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c.waiters--
	if c.waiters > 0 {
		return
	}
	if cur, ok := w.pending[id]; ok && cur == c {
		delete(w.pending, id)
	}
}

// Enqueue adds a request without waiting for its result.
func (w *WaitableQueue[T, R]) Enqueue(req T) {
	w.inner.Enqueue(req)
}

func (w *WaitableQueue[T, R]) Dequeue() (T, bool, error) {
	return w.inner.Dequeue()
}

// Acknowledge completes the in-flight request and releases its waiters with result.
func (w *WaitableQueue[T, R]) Acknowledge(id uuid.UUID, result R) error {
	if err := w.inner.Acknowledge(id); err != nil {
		return err
	}
	w.resolve(id, result, nil)
	return nil
}

// Reject fails the in-flight request and releases its waiters with reason.
func (w *WaitableQueue[T, R]) Reject(id uuid.UUID, reason error) error {
	if err := w.inner.Reject(id, reason); err != nil {
		return err
	}
	var zero R
	w.resolve(id, zero, reason)
	return nil
}

func (w *WaitableQueue[T, R]) resolve(id uuid.UUID, result R, err error) {
	w.mu.Lock()
	c, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	c.result = result
	c.err = err
	close(c.done)
}

// Waiting returns the number of request ids with at least one waiter.
func (w *WaitableQueue[T, R]) Waiting() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *WaitableQueue[T, R]) Ready() <-chan struct{} { return w.inner.Ready() }
func (w *WaitableQueue[T, R]) Len() int { return w.inner.Len() }
func (w *WaitableQueue[T, R]) InFlight() (T, bool) { return w.inner.InFlight() }
func (w *WaitableQueue[T, R]) Stats() Stats { return w.inner.Stats() }
func (w *WaitableQueue[T, R]) CaptureState() State[T] { return w.inner.CaptureState() }
func (w *WaitableQueue[T, R]) RestoreState(s State[T]) error { return w.inner.RestoreState(s) }
