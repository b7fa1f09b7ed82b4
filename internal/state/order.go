package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderDirection is the side of an order
type OrderDirection int32

const (
	OrderDirectionBuy OrderDirection = iota
	OrderDirectionSell
)

func (d OrderDirection) String() string {
	switch d {
	case OrderDirectionBuy:
		return "Buy"
	case OrderDirectionSell:
		return "Sell"
	default:
		return "Unknown"
	}
}

// OrderType classifies how an order is executed
type OrderType int32

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
	OrderTypeTakeProfit
	OrderTypeStopLoss
	OrderTypeTrailingStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	case OrderTypeStop:
		return "Stop"
	case OrderTypeTakeProfit:
		return "TakeProfit"
	case OrderTypeStopLoss:
		return "StopLoss"
	case OrderTypeTrailingStop:
		return "TrailingStop"
	default:
		return "Unknown"
	}
}

// OrderStatus tracks the order lifecycle
type OrderStatus int32

const (
	OrderStatusInactive OrderStatus = iota
	OrderStatusActive
	OrderStatusPlaced
	OrderStatusExecuted
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusInactive:
		return "Inactive"
	case OrderStatusActive:
		return "Active"
	case OrderStatusPlaced:
		return "Placed"
	case OrderStatusExecuted:
		return "Executed"
	case OrderStatusCanceled:
		return "Canceled"
	case OrderStatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// IsOpen reports whether an order in this status may live in the open-orders cache.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusInactive || s == OrderStatusActive || s == OrderStatusPlaced
}

// Order is an open order as held by the trading engine cache.
type Order struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"account_id"`
	Instrument       string           `json:"instrument"`
	AssetPairID      string           `json:"asset_pair_id"`
	Direction        OrderDirection   `json:"direction"`
	Type             OrderType        `json:"type"`
	Status           OrderStatus      `json:"status"`
	Volume           decimal.Decimal  `json:"volume"`
	Price            *decimal.Decimal `json:"price,omitempty"` // Nil for market orders
	ParentOrderID    string           `json:"parent_order_id,omitempty"`
	ParentPositionID string           `json:"parent_position_id,omitempty"`
	RelatedOrderIDs  []string         `json:"related_order_ids,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ModifiedAt       time.Time        `json:"modified_at"`
}

// clone returns a copy that shares no mutable slices with o.
func (o Order) clone() Order {
	if o.RelatedOrderIDs != nil {
		o.RelatedOrderIDs = append([]string(nil), o.RelatedOrderIDs...)
	}
	if o.Price != nil {
		p := *o.Price
		o.Price = &p
	}
	return o
}
