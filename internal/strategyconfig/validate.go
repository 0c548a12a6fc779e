package strategyconfig

import (
	"fmt"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	// === Watchlist ===
	if len(cfg.Watchlist) == 0 {
		return ValidationError{"watchlist", "must not be empty"}
	}
	seats := make(map[string]bool)
	owners := make(map[string]string)
	for i, seat := range cfg.Watchlist {
		field := fmt.Sprintf("watchlist[%d]", i)
		if seat.Underlying == "" {
			return ValidationError{field + ".underlying", "required"}
		}
		if seat.Direction != DirectionBull && seat.Direction != DirectionBear {
			return ValidationError{field + ".direction", "must be BULL or BEAR"}
		}
		if seats[seat.Key()] {
			return ValidationError{field, "duplicate seat " + seat.Key()}
		}
		seats[seat.Key()] = true
		if len(seat.Warrants) == 0 {
			return ValidationError{field + ".warrants", "must not be empty"}
		}
		for _, w := range seat.Warrants {
			if w == "" {
				return ValidationError{field + ".warrants", "empty symbol"}
			}
			if owner, ok := owners[w]; ok {
				return ValidationError{field + ".warrants", fmt.Sprintf("%s already listed under %s", w, owner)}
			}
			owners[w] = seat.Key()
		}
	}

	// === Signals ===
	if err := validateRSI(cfg.Signals.Buy.RSIBelow, "signals.buy.rsi_below"); err != nil {
		return err
	}
	if err := validateRSI(cfg.Signals.Sell.RSIAbove, "signals.sell.rsi_above"); err != nil {
		return err
	}
	if err := validatePctRange(cfg.Signals.Sell.TakeProfitPct, "signals.sell.take_profit_pct"); err != nil {
		return err
	}
	if err := validatePctRange(cfg.Signals.Sell.StopLossPct, "signals.sell.stop_loss_pct"); err != nil {
		return err
	}

	// === Order ===
	if cfg.Order.Qty <= 0 {
		return ValidationError{"order.qty", "must be > 0"}
	}
	if cfg.Order.Type != "MARKET" && cfg.Order.Type != "LIMIT" {
		return ValidationError{"order.type", "must be MARKET or LIMIT"}
	}
	if cfg.Order.MaxReprice < 0 {
		return ValidationError{"order.max_reprice", "must be >= 0"}
	}

	// === Cooldowns ===
	if cfg.Cooldowns.Buy < 0 || cfg.Cooldowns.Sell < 0 {
		return ValidationError{"cooldowns", "must be >= 0"}
	}

	// === Risk ===
	if cfg.Risk.MaxDailyNotional < 0 {
		return ValidationError{"risk.max_daily_notional", "must be >= 0"}
	}
	if cfg.Risk.DailyLossLimit < 0 {
		return ValidationError{"risk.daily_loss_limit", "must be >= 0"}
	}
	if cfg.Risk.MaxBuysPerSymbol < 0 {
		return ValidationError{"risk.max_buys_per_symbol", "must be >= 0"}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	// 손실 한도 없이 운용
	if cfg.Risk.DailyLossLimit == 0 {
		warnings = append(warnings, Warning{
			Code:    "NO_LOSS_LIMIT",
			Message: "daily_loss_limit = 0: 일일 손실 한도 미설정",
		})
	}

	// 손절 없이 운용
	if cfg.Signals.Sell.StopLossPct == 0 {
		warnings = append(warnings, Warning{
			Code:    "NO_STOP_LOSS",
			Message: "stop_loss_pct = 0: 손절 조건 없음",
		})
	}

	// 매수 쿨다운이 매도보다 짧으면 재진입 반복 우려
	if cfg.Cooldowns.Buy < cfg.Cooldowns.Sell {
		warnings = append(warnings, Warning{
			Code:    "SHORT_BUY_COOLDOWN",
			Message: "buy cooldown < sell cooldown: 재진입 반복 우려",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateRSI(v float64, field string) error {
	if v < 0 || v > 100 {
		return ValidationError{field, "must be in range [0, 100]"}
	}
	return nil
}

// validatePctRange는 퍼센트 값이 0~1 범위인지 검증
func validatePctRange(pct float64, field string) error {
	if pct < 0 || pct > 1 {
		return ValidationError{field, "must be in range [0, 1]"}
	}
	return nil
}
