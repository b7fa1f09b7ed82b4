package snapshot

import (
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/state"
	"fmt"
	"strings"
	"time"
)

type field uint16

const (
	fieldTradingDay field = 1 << iota
	fieldCorrelationID
	fieldTimestamp
	fieldStatus
	fieldOrders
	fieldPositions
	fieldAccounts
	fieldAccountsInLiquidation
	fieldBestFxPrices
	fieldBestTradingPrices

	allFields = fieldBestTradingPrices<<1 - 1
)

var fieldNames = map[field]string{
	fieldTradingDay:            "trading day",
	fieldCorrelationID:         "correlation id",
	fieldTimestamp:             "timestamp",
	fieldStatus:                "status",
	fieldOrders:                "orders",
	fieldPositions:             "positions",
	fieldAccounts:              "accounts",
	fieldAccountsInLiquidation: "accounts in liquidation",
	fieldBestFxPrices:          "best fx prices",
	fieldBestTradingPrices:     "best trading prices",
}

// Builder accumulates one TradingEngineSnapshot. Every input must be supplied
// exactly once; each setter validates its input eagerly. Not goroutine-safe:
// the Service serializes use through its lock.
type Builder struct {
	rec TradingEngineSnapshot
	set field
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Reset discards any accumulated input.
func (b *Builder) Reset() {
	b.rec = TradingEngineSnapshot{}
	b.set = 0
}

func (b *Builder) mark(f field) error {
	if b.set&f != 0 {
		return fmt.Errorf("%w: %s already set", ErrInvalidOperation, fieldNames[f])
	}
	b.set |= f
	return nil
}

func invalid(f field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidOperation, fieldNames[f], reason)
}

func (b *Builder) WithTradingDay(day time.Time) error {
	if day.IsZero() {
		return invalid(fieldTradingDay, "must not be zero")
	}
	if err := b.mark(fieldTradingDay); err != nil {
		return err
	}
	b.rec.TradingDay = schedule.TradingDay(day)
	return nil
}

func (b *Builder) WithCorrelationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(fieldCorrelationID, "must not be empty")
	}
	if err := b.mark(fieldCorrelationID); err != nil {
		return err
	}
	b.rec.CorrelationID = id
	return nil
}

func (b *Builder) WithTimestamp(ts time.Time) error {
	if ts.IsZero() {
		return invalid(fieldTimestamp, "must not be zero")
	}
	if err := b.mark(fieldTimestamp); err != nil {
		return err
	}
	b.rec.Timestamp = ts
	return nil
}

func (b *Builder) WithStatus(s Status) error {
	if !s.IsValid() {
		return invalid(fieldStatus, "is unknown")
	}
	if err := b.mark(fieldStatus); err != nil {
		return err
	}
	b.rec.Status = s
	return nil
}

// WithOrders takes the open orders of reader and indexes their related
// orders as resolved by the same reader.
func (b *Builder) WithOrders(reader state.OrderReader) error {
	if reader == nil {
		return invalid(fieldOrders, "reader is nil")
	}
	orders := reader.GetAllOrders()
	if len(orders) == 0 {
		return invalid(fieldOrders, "must not be empty")
	}
	if err := b.mark(fieldOrders); err != nil {
		return err
	}

	relations := make(map[string][]string, len(orders))
	for _, o := range orders {
		if len(o.RelatedOrderIDs) == 0 {
			continue
		}
		relations[o.ID] = orderIDs(reader.GetRelatedOrders(o.RelatedOrderIDs))
	}
	b.rec.Orders = orders
	b.rec.OrderRelations = relations
	return nil
}

// WithPositions takes the open positions of reader and indexes their
// related orders.
func (b *Builder) WithPositions(reader state.OrderReader) error {
	if reader == nil {
		return invalid(fieldPositions, "reader is nil")
	}
	positions := reader.GetPositions()
	if len(positions) == 0 {
		return invalid(fieldPositions, "must not be empty")
	}
	if err := b.mark(fieldPositions); err != nil {
		return err
	}

	relations := make(map[string][]string, len(positions))
	for _, p := range positions {
		if len(p.RelatedOrderIDs) == 0 {
			continue
		}
		relations[p.ID] = orderIDs(reader.GetRelatedOrders(p.RelatedOrderIDs))
	}
	b.rec.Positions = positions
	b.rec.PositionRelations = relations
	return nil
}

func (b *Builder) WithAccounts(accounts []state.Account) error {
	if len(accounts) == 0 {
		return invalid(fieldAccounts, "must not be empty")
	}
	if err := b.mark(fieldAccounts); err != nil {
		return err
	}
	b.rec.Accounts = append([]state.Account(nil), accounts...)
	return nil
}

// WithAccountsInLiquidation accepts an empty list; nil means the input was
// never read.
func (b *Builder) WithAccountsInLiquidation(accounts []state.Account) error {
	if accounts == nil {
		return invalid(fieldAccountsInLiquidation, "must not be nil")
	}
	if err := b.mark(fieldAccountsInLiquidation); err != nil {
		return err
	}
	b.rec.AccountsInLiquidation = append([]state.Account{}, accounts...)
	return nil
}

func (b *Builder) WithBestFxPrices(quotes map[string]state.BidAskPair) error {
	if quotes == nil {
		return invalid(fieldBestFxPrices, "must not be nil")
	}
	if err := b.mark(fieldBestFxPrices); err != nil {
		return err
	}
	b.rec.BestFxPrices = copyQuotes(quotes)
	return nil
}

func (b *Builder) WithBestTradingPrices(quotes map[string]state.BidAskPair) error {
	if quotes == nil {
		return invalid(fieldBestTradingPrices, "must not be nil")
	}
	if err := b.mark(fieldBestTradingPrices); err != nil {
		return err
	}
	b.rec.BestTradingPrices = copyQuotes(quotes)
	return nil
}

// Build returns the accumulated record and resets the builder. It fails if
// nothing was supplied or any input is missing; the builder is reset in
// both cases.
func (b *Builder) Build() (TradingEngineSnapshot, error) {
	defer b.Reset()

	if b.set == 0 {
		return TradingEngineSnapshot{}, fmt.Errorf("%w: no snapshot input was supplied", ErrInvalidOperation)
	}
	if missing := allFields &^ b.set; missing != 0 {
		var names []string
		for f := fieldTradingDay; f <= fieldBestTradingPrices; f <<= 1 {
			if missing&f != 0 {
				names = append(names, fieldNames[f])
			}
		}
		return TradingEngineSnapshot{}, fmt.Errorf("%w: missing %s", ErrInvalidOperation, strings.Join(names, ", "))
	}
	return b.rec, nil
}

func orderIDs(orders []state.Order) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func copyQuotes(in map[string]state.BidAskPair) map[string]state.BidAskPair {
	out := make(map[string]state.BidAskPair, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
