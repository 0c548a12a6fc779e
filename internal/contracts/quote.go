package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Indicators are precomputed by the quote provider
type Indicators struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	K          float64 `json:"k"`
	D          float64 `json:"d"`
	J          float64 `json:"j"`
}

// MACDHistogram is MACD minus its signal line
func (i Indicators) MACDHistogram() float64 {
	return i.MACD - i.MACDSignal
}

// Quote is the latest market snapshot of one warrant
// ⭐ SSOT: 시세 → 엔진 전달 구조체
type Quote struct {
	Symbol     string          `json:"symbol"`
	Underlying string          `json:"underlying"`
	Last       decimal.Decimal `json:"last"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Volume     int64           `json:"volume"`
	Indicators Indicators      `json:"indicators"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Valid reports whether the quote carries a usable price
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Last.IsPositive()
}

// Mid is the bid/ask midpoint, falling back to last
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}
