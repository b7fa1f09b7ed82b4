package workflow

import (
	"MarginTrading/internal/kv"
	"MarginTrading/internal/schedule"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DraftFlagKey is the durable "should recreate draft" flag.
const DraftFlagKey = "draft-snapshot:should-recreate"

// DraftDayKey holds the trading day of the owed draft.
const DraftDayKey = "draft-snapshot:trading-day"

// DraftWorkflow pairs the in-memory tracker with a durable flag so an owed
// draft snapshot survives restarts.
type DraftWorkflow struct {
	tracker *SynchronizedTracker
	flag    *kv.Flag
	day     *kv.Record[time.Time]
	logger  zerolog.Logger
	now     func() time.Time
}

func NewDraftWorkflow(tracker *SynchronizedTracker, store kv.Store, retry kv.RetryPolicy, logger zerolog.Logger) *DraftWorkflow {
	return &DraftWorkflow{
		tracker: tracker,
		flag:    kv.NewFlag(store, DraftFlagKey, retry),
		day:     kv.NewRecord[time.Time](store, DraftDayKey, retry),
		logger:  logger,
		now:     time.Now,
	}
}

func (w *DraftWorkflow) Tracker() *SynchronizedTracker {
	return w.tracker
}

// Request records that a draft of tradingDay is owed. A draft still owed
// for an earlier day is superseded. It reports false when tradingDay was
// already owed. The tracker is armed even if the durable state cannot be
// written.
func (w *DraftWorkflow) Request(ctx context.Context, tradingDay time.Time) (bool, error) {
	day := schedule.TradingDay(tradingDay)
	at := w.now()

	armed := w.tracker.TryRequest(day, at)
	if !armed {
		previous := w.tracker.TradingDay()
		if armed = w.tracker.Supersede(day, at); armed {
			w.logger.Warn().
				Str("trading_day", day.Format(time.DateOnly)).
				Str("superseded_day", previous.Format(time.DateOnly)).
				Msg("draft snapshot of an earlier day was never completed")
		}
	}

	if armed {
		if err := w.day.Set(ctx, day); err != nil {
			return armed, fmt.Errorf("request draft snapshot: %w", err)
		}
	}
	if err := w.flag.Set(ctx, true); err != nil {
		return armed, fmt.Errorf("request draft snapshot: %w", err)
	}
	w.logger.Info().
		Str("trading_day", day.Format(time.DateOnly)).
		Bool("armed", armed).
		Msg("draft snapshot requested")
	return armed, nil
}

// Restore re-arms the tracker at startup if the durable flag says a draft
// is still owed. The persisted trading day wins over fallbackDay.
func (w *DraftWorkflow) Restore(ctx context.Context, fallbackDay time.Time) (bool, error) {
	owed, err := w.flag.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("restore draft workflow: %w", err)
	}
	if !owed {
		return false, nil
	}

	day, ok, err := w.day.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("restore draft workflow: %w", err)
	}
	if !ok {
		day = fallbackDay
	}
	day = schedule.TradingDay(day)

	armed := w.tracker.TryRequest(day, w.now())
	w.logger.Warn().
		Str("trading_day", day.Format(time.DateOnly)).
		Bool("persisted_day", ok).
		Msg("draft snapshot still owed from previous run, fallback armed")
	return armed, nil
}

// Completed is called by the snapshot service after a draft of tradingDay
// was persisted. A draft owed for a later day stays owed.
func (w *DraftWorkflow) Completed(ctx context.Context, tradingDay time.Time) error {
	if !w.tracker.CompleteFor(schedule.TradingDay(tradingDay)) {
		w.logger.Info().
			Str("trading_day", tradingDay.Format(time.DateOnly)).
			Str("owed_day", w.tracker.TradingDay().Format(time.DateOnly)).
			Msg("draft persisted, a later draft is still owed")
		return nil
	}
	if err := w.flag.Set(ctx, false); err != nil {
		return fmt.Errorf("complete draft workflow: %w", err)
	}
	return nil
}

// Reset is the operator hard reset.
func (w *DraftWorkflow) Reset(ctx context.Context) error {
	w.tracker.Reset()
	if err := w.flag.Set(ctx, false); err != nil {
		return fmt.Errorf("reset draft workflow: %w", err)
	}
	w.logger.Warn().Msg("draft workflow reset by operator")
	return nil
}

// Owed reads the durable flag.
func (w *DraftWorkflow) Owed(ctx context.Context) (bool, error) {
	return w.flag.Get(ctx)
}
