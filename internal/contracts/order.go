package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a brokerage order as tracked by the engine
// ⭐ SSOT: 엔진 ↔ 브로커 주문 정보 전달
type Order struct {
	ID            string          `json:"id"`              // broker order id
	ClientOrderID string          `json:"client_order_id"` // engine-assigned, idempotency key
	Symbol        string          `json:"symbol"`
	Underlying    string          `json:"underlying"`
	Side          OrderSide       `json:"side"` // BUY or SELL
	Qty           int64           `json:"qty"`
	Price         decimal.Decimal `json:"price"`      // zero for market order
	OrderType     OrderType       `json:"order_type"` // MARKET or LIMIT
	FilledQty     int64           `json:"filled_qty"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Status        Status          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderRequest is what the engine submits
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Underlying    string          `json:"underlying"`
	Side          OrderSide       `json:"side"`
	Qty           int64           `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	OrderType     OrderType       `json:"order_type"`
	Reason        string          `json:"reason,omitempty"`
}

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents market or limit order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Status represents order status
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCanceled  Status = "CANCELED"
	StatusRejected  Status = "REJECTED"
)

// IsMarketOrder checks if the order is a market order
func (o *Order) IsMarketOrder() bool {
	return o.OrderType == OrderTypeMarket
}

// IsFilled checks if the order is filled
func (o *Order) IsFilled() bool {
	return o.Status == StatusFilled
}

// IsOpen reports whether the order can still fill or be cancelled
func (o *Order) IsOpen() bool {
	switch o.Status {
	case StatusPending, StatusSubmitted, StatusPartial:
		return true
	}
	return false
}

// RemainingQty is the unfilled quantity (never negative)
func (o *Order) RemainingQty() int64 {
	if rem := o.Qty - o.FilledQty; rem > 0 {
		return rem
	}
	return 0
}

// FilledNotional is filled quantity times average fill price
func (o *Order) FilledNotional() decimal.Decimal {
	return o.AvgFillPrice.Mul(decimal.NewFromInt(o.FilledQty))
}

// Notional is the requested value; zero for market orders
func (r *OrderRequest) Notional() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Qty))
}
