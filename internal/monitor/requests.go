// Package monitor runs the background loops that turn snapshot requests
// and missed drafts into MakeSnapshot calls.
package monitor

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/queue"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/validation"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotMaker is the orchestrator as seen by the monitors.
type SnapshotMaker interface {
	MakeSnapshot(ctx context.Context, tradingDay time.Time, correlationID string,
		strategy validation.StrategyType, initiator string, status snapshot.Status) (snapshot.Summary, error)
	DraftExists(ctx context.Context, tradingDay time.Time) (bool, error)
}

// RequestQueue is the consumer side of the waitable snapshot request queue.
type RequestQueue interface {
	Ready() <-chan struct{}
	Len() int
	Dequeue() (snapshot.CreationRequest, bool, error)
	Acknowledge(id uuid.UUID, result snapshot.Summary) error
	Reject(id uuid.UUID, reason error) error
	CaptureState() queue.State[snapshot.CreationRequest]
	RestoreState(s queue.State[snapshot.CreationRequest]) error
}

// StateStore keeps the queue state across restarts.
type StateStore interface {
	SaveQueueState(ctx context.Context, s queue.State[snapshot.CreationRequest]) error
	// LoadQueueState returns an empty state when nothing was saved.
	LoadQueueState(ctx context.Context) (queue.State[snapshot.CreationRequest], error)
	ClearQueueState(ctx context.Context) error
}

// RequestsMonitor dequeues snapshot creation requests one at a time and
// runs them through the orchestrator.
type RequestsMonitor struct {
	queue        RequestQueue
	maker        SnapshotMaker
	store        StateStore
	pollInterval time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewRequestsMonitor(
	q RequestQueue,
	maker SnapshotMaker,
	store StateStore,
	pollInterval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RequestsMonitor {
	return &RequestsMonitor{
		queue:        q,
		maker:        maker,
		store:        store,
		pollInterval: pollInterval,
		metrics:      metrics,
		logger:       logger,
	}
}

// Recover restores the queue saved by the previous Shutdown. The saved state
// is cleared once restored so it is not replayed twice.
func (m *RequestsMonitor) Recover(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st, err := m.store.LoadQueueState(ctx)
	if err != nil {
		return fmt.Errorf("load queue state: %w", err)
	}
	if st.IsEmpty() {
		return nil
	}
	if err := m.queue.RestoreState(st); err != nil {
		return fmt.Errorf("restore queue state: %w", err)
	}
	if err := m.store.ClearQueueState(ctx); err != nil {
		return fmt.Errorf("clear queue state: %w", err)
	}
	m.logger.Info().
		Int("pending", len(st.Pending)).
		Bool("had_in_flight", st.InFlight != nil).
		Msg("snapshot request queue restored")
	return nil
}

// Run blocks until ctx is cancelled. A request that is being processed when
// ctx ends still runs to completion.
func (m *RequestsMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.queue.Ready():
		case <-ticker.C:
		}
		m.drain(ctx)
	}
}

// drain processes requests until the queue is empty or ctx ends.
func (m *RequestsMonitor) drain(ctx context.Context) {
	for ctx.Err() == nil {
		m.metrics.QueueDepth.Set(float64(m.queue.Len()))

		req, ok, err := m.queue.Dequeue()
		if err != nil {
			m.logger.Error().Err(err).Msg("dequeue snapshot request")
			return
		}
		if !ok {
			return
		}
		m.process(ctx, req)
	}
}

// ProcessNext handles at most one request; used by tests and the CLI.
func (m *RequestsMonitor) ProcessNext(ctx context.Context) (bool, error) {
	req, ok, err := m.queue.Dequeue()
	if err != nil || !ok {
		return false, err
	}
	m.process(ctx, req)
	return true, nil
}

func (m *RequestsMonitor) process(ctx context.Context, req snapshot.CreationRequest) {
	cid := req.EffectiveCorrelationID()
	log := m.logger.With().
		Str("request_id", req.ID.String()).
		Str("correlation_id", cid).
		Str("initiator", req.Initiator).
		Logger()

	summary, err := m.maker.MakeSnapshot(context.WithoutCancel(ctx),
		req.TradingDay, cid, req.Strategy, req.Initiator, req.Status)
	if err != nil {
		m.metrics.QueueOutcomes.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Msg("snapshot request failed")
		if rerr := m.queue.Reject(req.ID, err); rerr != nil {
			log.Error().Err(rerr).Msg("reject snapshot request")
		}
		return
	}

	m.metrics.QueueOutcomes.WithLabelValues("acknowledged").Inc()
	log.Info().Int("orders", summary.OrdersCount).Msg("snapshot request completed")
	if aerr := m.queue.Acknowledge(req.ID, summary); aerr != nil {
		log.Error().Err(aerr).Msg("acknowledge snapshot request")
	}
}

// Shutdown saves the queue state. Call after Run has returned.
func (m *RequestsMonitor) Shutdown(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st := m.queue.CaptureState()
	if st.IsEmpty() {
		return nil
	}
	if err := m.store.SaveQueueState(ctx, st); err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	m.logger.Info().
		Int("pending", len(st.Pending)).
		Bool("in_flight", st.InFlight != nil).
		Msg("snapshot request queue saved")
	return nil
}
