package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionDirection is the exposure side of a position
type PositionDirection int32

const (
	PositionDirectionLong PositionDirection = iota
	PositionDirectionShort
)

func (d PositionDirection) String() string {
	switch d {
	case PositionDirectionLong:
		return "Long"
	case PositionDirectionShort:
		return "Short"
	default:
		return "Unknown"
	}
}

// Position represents an open position of an account on an instrument
type Position struct {
	ID                   string            `json:"id"`
	AccountID            string            `json:"account_id"`
	Instrument           string            `json:"instrument"`
	AssetPairID          string            `json:"asset_pair_id"`
	Direction            PositionDirection `json:"direction"`
	Volume               decimal.Decimal   `json:"volume"`
	OpenPrice            decimal.Decimal   `json:"open_price"`
	OpenMatchingEngineID string            `json:"open_matching_engine_id"`
	OpenTradeID          string            `json:"open_trade_id"`
	RelatedOrderIDs      []string          `json:"related_order_ids,omitempty"` // Stop loss, take profit, etc.
	OpenedAt             time.Time         `json:"opened_at"`
}

// IsFlat returns true if position has no exposure
func (p *Position) IsFlat() bool {
	return p.Volume.IsZero()
}

func (p Position) clone() Position {
	if p.RelatedOrderIDs != nil {
		p.RelatedOrderIDs = append([]string(nil), p.RelatedOrderIDs...)
	}
	return p
}
