package queue_test

import (
	"MarginTrading/internal/queue"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (r testRequest) RequestID() uuid.UUID { return r.ID }

func newRequest(name string) testRequest {
	return testRequest{ID: uuid.New(), Name: name}
}

// ============================================================================
// Test: Dequeue discipline
// ============================================================================

func TestDequeue_EmptyQueue(t *testing.T) {
	q := queue.New[testRequest]()

	_, ok, err := q.Dequeue()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDequeue_SecondDequeueWhileInFlightFails(t *testing.T) {
	q := queue.New[testRequest]()
	r1, r2 := newRequest("r1"), newRequest("r2")
	q.Enqueue(r1)
	q.Enqueue(r2)

	got, ok, err := q.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r1, got)

	_, ok, err = q.Dequeue()
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)
	assert.False(t, ok)

	require.NoError(t, q.Acknowledge(r1.ID))

	got, ok, err = q.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r2, got)
}

func TestDequeue_SecondDequeueOnEmptyQueueWithInFlightStillFails(t *testing.T) {
	q := queue.New[testRequest]()
	q.Enqueue(newRequest("only"))

	_, _, err := q.Dequeue()
	require.NoError(t, err)

	_, _, err = q.Dequeue()
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)
}

// ============================================================================
// Test: Acknowledge / Reject identity
// ============================================================================

func TestAcknowledge_MismatchedIDFailsAndKeepsInFlight(t *testing.T) {
	q := queue.New[testRequest]()
	r1 := newRequest("r1")
	q.Enqueue(r1)
	q.Enqueue(newRequest("r2"))
	_, _, err := q.Dequeue()
	require.NoError(t, err)

	err = q.Acknowledge(uuid.New())
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)

	err = q.Reject(uuid.New(), errors.New("boom"))
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)

	inFlight, ok := q.InFlight()
	require.True(t, ok)
	assert.Equal(t, r1.ID, inFlight.ID)
	assert.Equal(t, 1, q.Len())
}

func TestAcknowledge_NothingInFlightFails(t *testing.T) {
	q := queue.New[testRequest]()
	assert.ErrorIs(t, q.Acknowledge(uuid.New()), queue.ErrInvalidOperation)
	assert.ErrorIs(t, q.Reject(uuid.New(), nil), queue.ErrInvalidOperation)
}

func TestReject_ClearsInFlightAndRecordsReason(t *testing.T) {
	q := queue.New[testRequest]()
	r1 := newRequest("r1")
	q.Enqueue(r1)
	_, _, err := q.Dequeue()
	require.NoError(t, err)

	require.NoError(t, q.Reject(r1.ID, errors.New("validation failed")))

	_, ok := q.InFlight()
	assert.False(t, ok)
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, "validation failed", stats.LastRejection)
}

// ============================================================================
// Test: FIFO
// ============================================================================

func TestFIFO_SingleProducer(t *testing.T) {
	q := queue.New[testRequest]()
	var want []testRequest
	for i := 0; i < 50; i++ {
		r := newRequest(fmt.Sprintf("r%d", i))
		want = append(want, r)
		q.Enqueue(r)
	}

	got := drain(t, q)
	assert.Equal(t, want, got)
}

func TestFIFO_ConcurrentProducersPreservePerProducerOrder(t *testing.T) {
	q := queue.New[testRequest]()
	const producers, perProducer = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(testRequest{ID: uuid.New(), Name: fmt.Sprintf("%d:%04d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	got := drain(t, q)
	require.Len(t, got, producers*perProducer)

	last := make(map[string]string)
	for _, r := range got {
		producer, seq, found := strings.Cut(r.Name, ":")
		require.True(t, found)
		if prev, ok := last[producer]; ok {
			assert.Less(t, prev, seq, "producer %s out of order", producer)
		}
		last[producer] = seq
	}
}

func TestSingleInFlight_ConcurrentConsumers(t *testing.T) {
	q := queue.New[testRequest]()
	for i := 0; i < 20; i++ {
		q.Enqueue(newRequest(fmt.Sprintf("r%d", i)))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := q.Dequeue()
			if err == nil && ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one consumer must obtain the in-flight slot")
}

// ============================================================================
// Test: Capture / Restore
// ============================================================================

func TestRestoreState_InFlightComesBackFirst(t *testing.T) {
	q := queue.New[testRequest]()
	r1, r2 := newRequest("r1"), newRequest("r2")
	q.Enqueue(r1)
	q.Enqueue(r2)
	_, _, err := q.Dequeue()
	require.NoError(t, err)

	state := q.CaptureState()
	require.NotNil(t, state.InFlight)
	assert.Equal(t, r1, *state.InFlight)
	assert.Equal(t, []testRequest{r2}, state.Pending)

	// Round-trip through JSON the same way the state store does.
	data, err := json.Marshal(state)
	require.NoError(t, err)
	var restoredState queue.State[testRequest]
	require.NoError(t, json.Unmarshal(data, &restoredState))

	fresh := queue.New[testRequest]()
	require.NoError(t, fresh.RestoreState(restoredState))

	got, ok, err := fresh.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r1, got)
	require.NoError(t, fresh.Acknowledge(r1.ID))

	got, ok, err = fresh.Dequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r2, got)
}

func TestRestoreState_NonEmptyQueueFails(t *testing.T) {
	q := queue.New[testRequest]()
	q.Enqueue(newRequest("existing"))

	err := q.RestoreState(queue.State[testRequest]{Pending: []testRequest{newRequest("other")}})
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)
	assert.Equal(t, 1, q.Len())
}

func TestRestoreState_InFlightQueueFails(t *testing.T) {
	q := queue.New[testRequest]()
	q.Enqueue(newRequest("existing"))
	_, _, err := q.Dequeue()
	require.NoError(t, err)

	err = q.RestoreState(queue.State[testRequest]{})
	assert.ErrorIs(t, err, queue.ErrInvalidOperation)
}

func TestCaptureState_IsACopy(t *testing.T) {
	q := queue.New[testRequest]()
	q.Enqueue(newRequest("r1"))

	state := q.CaptureState()
	q.Enqueue(newRequest("r2"))

	assert.Len(t, state.Pending, 1)
	assert.False(t, state.IsEmpty())
	assert.True(t, queue.State[testRequest]{}.IsEmpty())
}

func TestReady_SignalledOnEnqueue(t *testing.T) {
	q := queue.New[testRequest]()
	q.Enqueue(newRequest("r1"))
	q.Enqueue(newRequest("r2"))

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal after enqueue")
	}
}

// --- Helpers ---

func drain(t *testing.T, q *queue.RequestQueue[testRequest]) []testRequest {
	t.Helper()
	var out []testRequest
	for {
		r, ok, err := q.Dequeue()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, r)
		require.NoError(t, q.Acknowledge(r.ID))
	}
}
