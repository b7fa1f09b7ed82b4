package ingestion

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MarketClosureInitiator is recorded on draft requests enqueued when the
// market closes.
const MarketClosureInitiator = "MarketClosure"

// MarketSchedule is the writable side of the platform schedule.
type MarketSchedule interface {
	Close(tradingDay, at time.Time)
	Open(at time.Time)
	Current() schedule.Window
}

// WindowStore persists the schedule window after every transition.
type WindowStore interface {
	Set(ctx context.Context, w schedule.Window) error
}

// DraftRequester arms the draft workflow. It reports false when a draft
// was already owed.
type DraftRequester interface {
	Request(ctx context.Context, tradingDay time.Time) (bool, error)
}

// RequestSink accepts snapshot requests without waiting for them.
type RequestSink interface {
	Enqueue(req snapshot.CreationRequest)
}

// RequestDeduper remembers request ids already accepted. It reports false
// for an id seen before.
type RequestDeduper interface {
	MarkSeen(ctx context.Context, id uuid.UUID, initiator string, tradingDay time.Time) (bool, error)
}

// Handler applies decoded messages to the in-memory state and the snapshot
// pipeline. It is independent of the transport.
type Handler struct {
	Schedule      MarketSchedule
	Windows       WindowStore // Optional
	Drafts        DraftRequester
	Requests      RequestSink
	Dedup         RequestDeduper // Optional
	Orders        *state.OrdersCache
	Accounts      *state.AccountsCache
	TradingQuotes *state.QuotesCache
	FxQuotes      *state.QuotesCache

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// Handle processes one message. Errors wrapping ErrMalformed are final;
// any other error asks for redelivery.
func (h *Handler) Handle(ctx context.Context, kind MessageKind, data []byte) error {
	err := h.dispatch(ctx, kind, data)

	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrMalformed) {
			result = "malformed"
		}
	}
	h.Metrics.MessagesConsumed.WithLabelValues(kind.String(), result).Inc()
	return err
}

func (h *Handler) dispatch(ctx context.Context, kind MessageKind, data []byte) error {
	switch kind {
	case KindMarketState:
		msg, err := ParseMarketState(data, h.now())
		if err != nil {
			return err
		}
		return h.onMarketState(ctx, msg)

	case KindTradingQuote, KindFxQuote:
		q, err := ParseQuote(data)
		if err != nil {
			return err
		}
		cache := h.TradingQuotes
		if kind == KindFxQuote {
			cache = h.FxQuotes
		}
		cache.Set(q)
		return nil

	case KindTradingState:
		u, err := ParseTradingState(data)
		if err != nil {
			return err
		}
		h.onTradingState(u)
		return nil

	case KindSnapshotRequest:
		req, err := ParseSnapshotRequest(data, h.now())
		if err != nil {
			return err
		}
		return h.onSnapshotRequest(ctx, req)

	default:
		return fmt.Errorf("%w: unknown message kind %d", ErrMalformed, kind)
	}
}

// onMarketState closes or opens the platform. A closure arms the draft
// workflow and, when the day was not already owed, enqueues the draft right
// away. A window that cannot be persisted fails the message so it is
// redelivered; replaying a closure is harmless.
func (h *Handler) onMarketState(ctx context.Context, msg MarketStateChanged) error {
	day := msg.TradingDay.Format(time.DateOnly)
	if msg.IsEnabled {
		h.Schedule.Open(msg.Timestamp)
		h.Logger.Info().Str("trading_day", day).Msg("market opened")
		return h.saveWindow(ctx)
	}

	h.Schedule.Close(msg.TradingDay, msg.Timestamp)
	h.Logger.Info().Str("trading_day", day).Msg("market closed")
	if err := h.saveWindow(ctx); err != nil {
		return err
	}

	armed, err := h.Drafts.Request(ctx, msg.TradingDay)
	if err != nil {
		// The tracker is armed regardless; the fallback monitor still runs.
		h.Logger.Error().Err(err).Str("trading_day", day).Msg("draft flag not persisted")
	}
	if !armed {
		h.Logger.Debug().Str("trading_day", day).Msg("draft snapshot already owed")
		return nil
	}

	req := snapshot.NewCreationRequest(msg.TradingDay, snapshot.StatusDraft,
		validation.StrategyAsSoonAsPossible, MarketClosureInitiator, "", h.now())
	h.Requests.Enqueue(req)
	h.Logger.Info().
		Str("request_id", req.ID.String()).
		Str("trading_day", day).
		Msg("draft snapshot enqueued on market closure")
	return nil
}

func (h *Handler) saveWindow(ctx context.Context) error {
	if h.Windows == nil {
		return nil
	}
	if err := h.Windows.Set(ctx, h.Schedule.Current()); err != nil {
		return fmt.Errorf("persist schedule window: %w", err)
	}
	return nil
}

func (h *Handler) onTradingState(u TradingStateUpdate) {
	switch u.Kind {
	case UpdateOrder:
		h.Orders.UpsertOrder(*u.Order)
	case UpdateOrderRemoved:
		h.Orders.RemoveOrder(u.ID)
	case UpdatePosition:
		h.Orders.UpsertPosition(*u.Position)
	case UpdatePositionClosed:
		h.Orders.ClosePosition(u.ID)
	case UpdateAccount:
		h.Accounts.Upsert(*u.Account)
	}
}

func (h *Handler) onSnapshotRequest(ctx context.Context, req snapshot.CreationRequest) error {
	if h.Dedup != nil {
		first, err := h.Dedup.MarkSeen(ctx, req.ID, req.Initiator, req.TradingDay)
		if err != nil {
			return fmt.Errorf("dedup snapshot request %s: %w", req.ID, err)
		}
		if !first {
			h.Logger.Debug().Str("request_id", req.ID.String()).Msg("duplicate snapshot request dropped")
			return nil
		}
	}

	h.Requests.Enqueue(req)
	h.Logger.Info().
		Str("request_id", req.ID.String()).
		Str("initiator", req.Initiator).
		Str("status", req.Status.String()).
		Str("trading_day", req.TradingDay.Format(time.DateOnly)).
		Msg("snapshot request enqueued")
	return nil
}
