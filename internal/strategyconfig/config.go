package strategyconfig

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config는 워런트 매매 전략의 전체 설정
type Config struct {
	Meta      Meta      `yaml:"meta" json:"meta"`
	Watchlist []Seat    `yaml:"watchlist" json:"watchlist"`
	Signals   Signals   `yaml:"signals" json:"signals"`
	Order     Order     `yaml:"order" json:"order"`
	Cooldowns Cooldowns `yaml:"cooldowns" json:"cooldowns"`
	Risk      Risk      `yaml:"risk" json:"risk"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
}

// Direction of a warrant relative to its underlying
type Direction string

const (
	DirectionBull Direction = "BULL"
	DirectionBear Direction = "BEAR"
)

// Seat is one (underlying, direction) slot; Warrants are candidates in priority order
type Seat struct {
	Underlying string    `yaml:"underlying" json:"underlying"`
	Direction  Direction `yaml:"direction" json:"direction"`
	Warrants   []string  `yaml:"warrants" json:"warrants"`
}

// Key identifies the seat
func (s Seat) Key() string {
	return s.Underlying + ":" + string(s.Direction)
}

// Signals 진입/청산 임계값
type Signals struct {
	Buy  BuySignal  `yaml:"buy" json:"buy"`
	Sell SellSignal `yaml:"sell" json:"sell"`
}

// BuySignal: every enabled condition must hold
type BuySignal struct {
	RSIBelow      float64 `yaml:"rsi_below" json:"rsi_below"`
	KDJJBelow     float64 `yaml:"kdj_j_below" json:"kdj_j_below"`
	MACDHistAbove float64 `yaml:"macd_hist_above" json:"macd_hist_above"`
}

// SellSignal: any condition triggers
type SellSignal struct {
	RSIAbove      float64 `yaml:"rsi_above" json:"rsi_above"`
	KDJJAbove     float64 `yaml:"kdj_j_above" json:"kdj_j_above"`
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct"` // 0.05 = +5%
	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`     // 0.03 = -3%
}

// Order 주문 파라미터
type Order struct {
	Qty        int64         `yaml:"qty" json:"qty"`
	Type       string        `yaml:"type" json:"type"` // MARKET or LIMIT
	StaleAfter time.Duration `yaml:"stale_after" json:"stale_after"`
	MaxReprice int           `yaml:"max_reprice" json:"max_reprice"`
}

// Cooldowns per direction
type Cooldowns struct {
	Buy  time.Duration `yaml:"buy" json:"buy"`
	Sell time.Duration `yaml:"sell" json:"sell"`
}

// Risk 일일 리스크 한도
type Risk struct {
	MaxDailyNotional float64 `yaml:"max_daily_notional" json:"max_daily_notional"`
	DailyLossLimit   float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	MaxBuysPerSymbol int     `yaml:"max_buys_per_symbol" json:"max_buys_per_symbol"`
}

// MaxDailyNotionalDec returns the notional cap as a decimal
func (r Risk) MaxDailyNotionalDec() decimal.Decimal {
	return decimal.NewFromFloat(r.MaxDailyNotional)
}

// DailyLossLimitDec returns the loss limit as a positive decimal
func (r Risk) DailyLossLimitDec() decimal.Decimal {
	return decimal.NewFromFloat(r.DailyLossLimit)
}

// Symbols returns every warrant in the watchlist, in file order
func (c *Config) Symbols() []string {
	var out []string
	for _, seat := range c.Watchlist {
		out = append(out, seat.Warrants...)
	}
	return out
}

// SeatOf returns the seat owning symbol
func (c *Config) SeatOf(symbol string) (Seat, bool) {
	for _, seat := range c.Watchlist {
		for _, w := range seat.Warrants {
			if w == symbol {
				return seat, true
			}
		}
	}
	return Seat{}, false
}

// DecisionSnapshot 설정 스냅샷 (재현성용)
type DecisionSnapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml"`
	StrategyID string    `json:"strategy_id"`
	CreatedAt  time.Time `json:"created_at"`
}
