package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidAskPair is the best bid/ask for an instrument at a point in time.
type BidAskPair struct {
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Date       time.Time       `json:"date"`
}
