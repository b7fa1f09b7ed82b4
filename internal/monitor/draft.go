package monitor

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/validation"
	"MarginTrading/internal/workflow"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DraftInitiator identifies snapshots made by the fallback loop.
const DraftInitiator = "DraftFallbackMonitor"

// DraftMonitor makes the owed draft snapshot itself when the event-driven
// path did not complete it within FallbackDelay.
type DraftMonitor struct {
	tracker       *workflow.SynchronizedTracker
	maker         SnapshotMaker
	interval      time.Duration
	fallbackDelay time.Duration
	metrics       *observability.Metrics
	logger        zerolog.Logger
	now           func() time.Time
}

func NewDraftMonitor(
	tracker *workflow.SynchronizedTracker,
	maker SnapshotMaker,
	interval, fallbackDelay time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DraftMonitor {
	return &DraftMonitor{
		tracker:       tracker,
		maker:         maker,
		interval:      interval,
		fallbackDelay: fallbackDelay,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// Run polls until ctx is cancelled. Failures never stop the loop.
func (m *DraftMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one polling step and reports whether a draft was attempted.
func (m *DraftMonitor) Check(ctx context.Context) bool {
	state, tradingDay, requestedAt := m.tracker.Snapshot()
	if state != workflow.StateRequested {
		return false
	}
	if m.now().Sub(requestedAt) < m.fallbackDelay {
		return false
	}
	if !m.tracker.TryStart() {
		return false
	}

	log := m.logger.With().
		Str("trading_day", tradingDay.Format(time.DateOnly)).
		Time("requested_at", requestedAt).
		Logger()

	exists, err := m.maker.DraftExists(ctx, tradingDay)
	if err != nil {
		log.Error().Err(err).Msg("check draft existence")
		m.rearm(tradingDay)
		m.metrics.DraftFallbacks.WithLabelValues("error").Inc()
		return false
	}
	if exists {
		m.tracker.TryComplete()
		m.metrics.DraftFallbacks.WithLabelValues("exists").Inc()
		log.Info().Msg("draft snapshot already persisted, fallback not needed")
		return false
	}

	log.Warn().Msg("draft snapshot not completed in time, creating fallback draft")
	_, err = m.maker.MakeSnapshot(ctx, tradingDay, uuid.NewString(), validation.StrategyAsSoonAsPossible,
		DraftInitiator, snapshot.StatusDraft)
	if err != nil {
		log.Error().Err(err).Msg("fallback draft snapshot failed, will retry")
		m.rearm(tradingDay)
		m.metrics.DraftFallbacks.WithLabelValues("error").Inc()
		return true
	}
	// Normally already reset by the service through DraftWorkflow.Completed.
	m.tracker.TryComplete()
	m.metrics.DraftFallbacks.WithLabelValues("created").Inc()
	return true
}

// rearm moves the tracker back to Requested so the next delay starts now.
func (m *DraftMonitor) rearm(tradingDay time.Time) {
	m.tracker.TryComplete()
	m.tracker.TryRequest(tradingDay, m.now())
}
