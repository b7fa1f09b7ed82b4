// Package snapshot builds and persists point-in-time records of the
// trading engine state.
package snapshot

import (
	"MarginTrading/internal/queue"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidOperation is shared with the queue so a single errors.Is
	// covers protocol and builder misuse.
	ErrInvalidOperation = queue.ErrInvalidOperation

	ErrTradingEnabled      = errors.New("trading is not disabled for the trading day")
	ErrSnapshotInProgress  = fmt.Errorf("%w: snapshot already in progress", ErrInvalidOperation)
	ErrUndeliveredMessages = errors.New("delivery queues have undelivered messages")
)

// Status distinguishes provisional and authoritative snapshots
type Status int32

const (
	StatusDraft Status = iota
	StatusFinal
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

func (s Status) IsValid() bool {
	return s == StatusDraft || s == StatusFinal
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "draft":
		return StatusDraft, nil
	case "final":
		return StatusFinal, nil
	default:
		return 0, fmt.Errorf("unknown snapshot status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CreationRequest asks for one snapshot. Immutable once created.
type CreationRequest struct {
	ID            uuid.UUID               `json:"id"`
	Strategy      validation.StrategyType `json:"strategy"`
	Status        Status                  `json:"status"`
	Initiator     string                  `json:"initiator"`
	CreatedAt     time.Time               `json:"created_at"`
	TradingDay    time.Time               `json:"trading_day"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
}

// NewCreationRequest stamps a new request with a fresh id.
func NewCreationRequest(tradingDay time.Time, status Status, strategy validation.StrategyType, initiator, correlationID string, now time.Time) CreationRequest {
	return CreationRequest{
		ID:            uuid.New(),
		Strategy:      strategy,
		Status:        status,
		Initiator:     initiator,
		CreatedAt:     now,
		TradingDay:    tradingDay,
		CorrelationID: correlationID,
	}
}

func (r CreationRequest) RequestID() uuid.UUID { return r.ID }

// EffectiveCorrelationID falls back to the request id.
func (r CreationRequest) EffectiveCorrelationID() string {
	if r.CorrelationID != "" {
		return r.CorrelationID
	}
	return r.ID.String()
}

// TradingEngineSnapshot is the persisted record.
type TradingEngineSnapshot struct {
	TradingDay            time.Time                   `json:"trading_day"`
	CorrelationID         string                      `json:"correlation_id"`
	Timestamp             time.Time                   `json:"timestamp"`
	Status                Status                      `json:"status"`
	Orders                []state.Order               `json:"orders"`
	OrderRelations        map[string][]string         `json:"order_relations"`
	Positions             []state.Position            `json:"positions"`
	PositionRelations     map[string][]string         `json:"position_relations"`
	Accounts              []state.Account             `json:"accounts"`
	AccountsInLiquidation []state.Account             `json:"accounts_in_liquidation"`
	BestFxPrices          map[string]state.BidAskPair `json:"best_fx_prices"`
	BestTradingPrices     map[string]state.BidAskPair `json:"best_trading_prices"`
}

// Summary carries counts only; used for logs, API responses and events.
type Summary struct {
	TradingDay             time.Time `json:"trading_day"`
	CorrelationID          string    `json:"correlation_id"`
	Status                 Status    `json:"status"`
	Timestamp              time.Time `json:"timestamp"`
	OrdersCount            int       `json:"orders_count"`
	PositionsCount         int       `json:"positions_count"`
	AccountsCount          int       `json:"accounts_count"`
	BestFxPricesCount      int       `json:"best_fx_prices_count"`
	BestTradingPricesCount int       `json:"best_trading_prices_count"`
}

func (s *TradingEngineSnapshot) Summary() Summary {
	return Summary{
		TradingDay:             s.TradingDay,
		CorrelationID:          s.CorrelationID,
		Status:                 s.Status,
		Timestamp:              s.Timestamp,
		OrdersCount:            len(s.Orders),
		PositionsCount:         len(s.Positions),
		AccountsCount:          len(s.Accounts),
		BestFxPricesCount:      len(s.BestFxPrices),
		BestTradingPricesCount: len(s.BestTradingPrices),
	}
}
