package execution

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
)

// Signal is the payload of buy and sell tasks
type Signal struct {
	Symbol     string                   `json:"symbol"`
	Underlying string                   `json:"underlying"`
	Direction  strategyconfig.Direction `json:"direction"`
	Quote      contracts.Quote          `json:"quote"`
	Reason     string                   `json:"reason"`
}

// EvaluateBuy reports whether every enabled buy condition holds.
// A zero threshold disables its condition; with none enabled nothing fires.
func EvaluateBuy(cfg strategyconfig.BuySignal, ind contracts.Indicators) (bool, string) {
	var reasons []string

	if cfg.RSIBelow > 0 {
		if ind.RSI >= cfg.RSIBelow {
			return false, ""
		}
		reasons = append(reasons, fmt.Sprintf("rsi %.1f < %.1f", ind.RSI, cfg.RSIBelow))
	}
	if cfg.KDJJBelow != 0 {
		if ind.J >= cfg.KDJJBelow {
			return false, ""
		}
		reasons = append(reasons, fmt.Sprintf("j %.1f < %.1f", ind.J, cfg.KDJJBelow))
	}
	if cfg.MACDHistAbove != 0 {
		if ind.MACDHistogram() <= cfg.MACDHistAbove {
			return false, ""
		}
		reasons = append(reasons, fmt.Sprintf("macd_hist %.4f > %.4f", ind.MACDHistogram(), cfg.MACDHistAbove))
	}

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, ", ")
}

// EvaluateSell reports whether any sell condition holds for the held position
func EvaluateSell(cfg strategyconfig.SellSignal, q contracts.Quote, pos contracts.Position) (bool, string) {
	if pos.AvailableQty <= 0 {
		return false, ""
	}

	if cfg.RSIAbove > 0 && q.Indicators.RSI > cfg.RSIAbove {
		return true, fmt.Sprintf("rsi %.1f > %.1f", q.Indicators.RSI, cfg.RSIAbove)
	}
	if cfg.KDJJAbove != 0 && q.Indicators.J > cfg.KDJJAbove {
		return true, fmt.Sprintf("j %.1f > %.1f", q.Indicators.J, cfg.KDJJAbove)
	}

	if pos.AvgCost.IsPositive() {
		pnl := q.Last.Sub(pos.AvgCost).Div(pos.AvgCost)
		if cfg.TakeProfitPct > 0 && pnl.GreaterThanOrEqual(decimal.NewFromFloat(cfg.TakeProfitPct)) {
			return true, fmt.Sprintf("take profit %s", pnl.StringFixed(4))
		}
		if cfg.StopLossPct > 0 && pnl.LessThanOrEqual(decimal.NewFromFloat(cfg.StopLossPct).Neg()) {
			return true, fmt.Sprintf("stop loss %s", pnl.StringFixed(4))
		}
	}
	return false, ""
}

// buyPrice is what a buy pays: the ask when quoted, else last
func buyPrice(q contracts.Quote) decimal.Decimal {
	if q.Ask.IsPositive() {
		return q.Ask
	}
	return q.Last
}

// sellPrice is what a sell receives: the bid when quoted, else last
func sellPrice(q contracts.Quote) decimal.Decimal {
	if q.Bid.IsPositive() {
		return q.Bid
	}
	return q.Last
}
