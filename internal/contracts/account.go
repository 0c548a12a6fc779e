package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one warrant holding
type Position struct {
	Symbol       string          `json:"symbol"`
	Qty          int64           `json:"qty"`
	AvailableQty int64           `json:"available_qty"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
}

// Cost is quantity times average cost
func (p Position) Cost() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Qty))
}

// Account is a balance + positions snapshot
// ⭐ SSOT: 계좌 스냅샷 (잔고/보유)
type Account struct {
	AccountNo   string          `json:"account_no"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	Positions   []Position      `json:"positions"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position looks up a holding by symbol
func (a *Account) Position(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}
