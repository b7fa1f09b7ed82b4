package ingestion

import (
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed marks a payload that can never be processed. Such messages
// are terminated instead of redelivered.
var ErrMalformed = errors.New("malformed message")

// MessageKind identifies the payload carried by a subject.
type MessageKind int32

const (
	KindMarketState MessageKind = iota
	KindTradingQuote
	KindFxQuote
	KindTradingState
	KindSnapshotRequest
)

func (k MessageKind) String() string {
	switch k {
	case KindMarketState:
		return "market_state"
	case KindTradingQuote:
		return "trading_quote"
	case KindFxQuote:
		return "fx_quote"
	case KindTradingState:
		return "trading_state"
	case KindSnapshotRequest:
		return "snapshot_request"
	default:
		return "unknown"
	}
}

// FeedsState reports whether messages of this kind update the caches a
// snapshot is taken from.
func (k MessageKind) FeedsState() bool {
	return k == KindTradingQuote || k == KindFxQuote || k == KindTradingState
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// MarketStateChanged is published by the platform schedule.
type MarketStateChanged struct {
	IsEnabled  bool
	TradingDay time.Time
	Timestamp  time.Time
}

type marketStateJSON struct {
	IsEnabled  bool      `json:"is_enabled"`
	TradingDay string    `json:"trading_day"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseMarketState decodes a market state message. A missing timestamp is
// replaced by now.
func ParseMarketState(data []byte, now time.Time) (MarketStateChanged, error) {
	var j marketStateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return MarketStateChanged{}, fmt.Errorf("%w: parse market state: %v", ErrMalformed, err)
	}
	day, err := schedule.ParseTradingDay(j.TradingDay)
	if err != nil {
		return MarketStateChanged{}, fmt.Errorf("%w: parse trading_day %q: %v", ErrMalformed, j.TradingDay, err)
	}
	ts := j.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return MarketStateChanged{IsEnabled: j.IsEnabled, TradingDay: day, Timestamp: ts}, nil
}

// ParseQuote decodes a best bid/ask update.
func ParseQuote(data []byte) (state.BidAskPair, error) {
	var q state.BidAskPair
	if err := json.Unmarshal(data, &q); err != nil {
		return state.BidAskPair{}, fmt.Errorf("%w: parse quote: %v", ErrMalformed, err)
	}
	if q.Instrument == "" {
		return state.BidAskPair{}, fmt.Errorf("%w: quote without instrument", ErrMalformed)
	}
	if q.Date.IsZero() {
		return state.BidAskPair{}, fmt.Errorf("%w: quote %s without date", ErrMalformed, q.Instrument)
	}
	return q, nil
}

// UpdateKind is the discriminator of a trading state update.
type UpdateKind string

const (
	UpdateOrder          UpdateKind = "order"
	UpdateOrderRemoved   UpdateKind = "order_removed"
	UpdatePosition       UpdateKind = "position"
	UpdatePositionClosed UpdateKind = "position_closed"
	UpdateAccount        UpdateKind = "account"
)

// TradingStateUpdate is one change of the trading engine state. Exactly one
// payload field is set, matching Kind; removals carry only ID.
type TradingStateUpdate struct {
	Kind     UpdateKind      `json:"kind"`
	ID       string          `json:"id,omitempty"`
	Order    *state.Order    `json:"order,omitempty"`
	Position *state.Position `json:"position,omitempty"`
	Account  *state.Account  `json:"account,omitempty"`
}

// ParseTradingState decodes and checks a trading state update.
func ParseTradingState(data []byte) (TradingStateUpdate, error) {
	var u TradingStateUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return TradingStateUpdate{}, fmt.Errorf("%w: parse trading state: %v", ErrMalformed, err)
	}

	var ok bool
	switch u.Kind {
	case UpdateOrder:
		ok = u.Order != nil && u.Order.ID != ""
	case UpdatePosition:
		ok = u.Position != nil && u.Position.ID != ""
	case UpdateAccount:
		ok = u.Account != nil && u.Account.ID != ""
	case UpdateOrderRemoved, UpdatePositionClosed:
		ok = u.ID != ""
	default:
		return TradingStateUpdate{}, fmt.Errorf("%w: unknown trading state kind %q", ErrMalformed, u.Kind)
	}
	if !ok {
		return TradingStateUpdate{}, fmt.Errorf("%w: %s update without payload", ErrMalformed, u.Kind)
	}
	return u, nil
}

type snapshotRequestJSON struct {
	ID            string `json:"id"`
	TradingDay    string `json:"trading_day"`
	Status        string `json:"status"`
	Strategy      string `json:"strategy"`
	Initiator     string `json:"initiator"`
	CorrelationID string `json:"correlation_id"`
}

// ParseSnapshotRequest decodes a snapshot creation request. The id is
// optional; senders that set it get redelivery deduplication. Strategy
// defaults to AsSoonAsPossible.
func ParseSnapshotRequest(data []byte, now time.Time) (snapshot.CreationRequest, error) {
	var j snapshotRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return snapshot.CreationRequest{}, fmt.Errorf("%w: parse snapshot request: %v", ErrMalformed, err)
	}

	day, err := schedule.ParseTradingDay(j.TradingDay)
	if err != nil {
		return snapshot.CreationRequest{}, fmt.Errorf("%w: parse trading_day %q: %v", ErrMalformed, j.TradingDay, err)
	}
	status, err := snapshot.ParseStatus(j.Status)
	if err != nil {
		return snapshot.CreationRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	strategy := validation.StrategyAsSoonAsPossible
	if j.Strategy != "" {
		if strategy, err = validation.ParseStrategyType(j.Strategy); err != nil {
			return snapshot.CreationRequest{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if j.Initiator == "" {
		return snapshot.CreationRequest{}, fmt.Errorf("%w: snapshot request without initiator", ErrMalformed)
	}

	req := snapshot.NewCreationRequest(day, status, strategy, j.Initiator, j.CorrelationID, now)
	if j.ID != "" {
		id, err := uuid.Parse(j.ID)
		if err != nil {
			return snapshot.CreationRequest{}, fmt.Errorf("%w: parse id: %v", ErrMalformed, err)
		}
		req.ID = id
	}
	return req, nil
}
