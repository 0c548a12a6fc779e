// Package risk tracks the day's trading exposure and refuses buys that
// would breach the configured daily limits.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// DomainName is the lifecycle registration name
const DomainName = "risk"

var (
	// ErrNotionalLimit: the buy would exceed the daily notional cap
	ErrNotionalLimit = errors.New("daily notional limit reached")
	// ErrLossLimit: realized loss already at the daily limit
	ErrLossLimit = errors.New("daily loss limit reached")
	// ErrSymbolLimit: too many buys of one symbol today
	ErrSymbolLimit = errors.New("per-symbol buy limit reached")
)

// =============================================================================
// Limits
// =============================================================================

// Limits are the daily caps. Zero disables a cap.
type Limits struct {
	MaxDailyNotional decimal.Decimal
	DailyLossLimit   decimal.Decimal // positive amount
	MaxBuysPerSymbol int
}

// OrdersSource lists today's orders for the open rebuild
type OrdersSource interface {
	TodayOrders(ctx context.Context) ([]contracts.Order, error)
}

// =============================================================================
// DailyLedger
// =============================================================================

// DailyLedger accumulates fills of the current trading day
// ⭐ SSOT: 일일 리스크 누적(매수금액/실현손익)은 이 원장에서만
type DailyLedger struct {
	source OrdersSource
	logger *logger.Logger

	mu          sync.Mutex
	limits      Limits
	dayKey      string
	buyNotional decimal.Decimal
	realized    decimal.Decimal
	buys        map[string]int
	costs       map[string]lot   // today's open lots per symbol
	applied     map[string]int64 // filled qty already booked per order id
}

type lot struct {
	qty  int64
	cost decimal.Decimal // total cost
}

// Summary is a diagnostic snapshot
type Summary struct {
	DayKey      string         `json:"day_key"`
	BuyNotional string         `json:"buy_notional"`
	RealizedPnL string         `json:"realized_pnl"`
	BuysPerSym  map[string]int `json:"buys_per_symbol"`
	Orders      int            `json:"orders"`
}

// NewDailyLedger creates an empty ledger
func NewDailyLedger(limits Limits, source OrdersSource, log *logger.Logger) *DailyLedger {
	if log == nil {
		log = logger.Nop()
	}
	l := &DailyLedger{
		source: source,
		logger: log.WithComponent(DomainName),
		limits: limits,
	}
	l.resetLocked("")
	return l
}

func (l *DailyLedger) resetLocked(dayKey string) {
	l.dayKey = dayKey
	l.buyNotional = decimal.Zero
	l.realized = decimal.Zero
	l.buys = make(map[string]int)
	l.costs = make(map[string]lot)
	l.applied = make(map[string]int64)
}

// SetLimits replaces the caps (strategy reload)
func (l *DailyLedger) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
}

// CheckBuy returns nil if a buy of notional on symbol fits today's limits.
// Fail-closed: a negative notional is refused.
func (l *DailyLedger) CheckBuy(symbol string, notional decimal.Decimal) error {
	if notional.IsNegative() {
		return fmt.Errorf("invalid notional %s", notional)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.limits.DailyLossLimit.IsZero() && l.realized.Neg().GreaterThanOrEqual(l.limits.DailyLossLimit) {
		return fmt.Errorf("%w: realized %s", ErrLossLimit, l.realized)
	}
	if !l.limits.MaxDailyNotional.IsZero() && l.buyNotional.Add(notional).GreaterThan(l.limits.MaxDailyNotional) {
		return fmt.Errorf("%w: %s + %s > %s", ErrNotionalLimit, l.buyNotional, notional, l.limits.MaxDailyNotional)
	}
	if l.limits.MaxBuysPerSymbol > 0 && l.buys[symbol] >= l.limits.MaxBuysPerSymbol {
		return fmt.Errorf("%w: %s bought %d times", ErrSymbolLimit, symbol, l.buys[symbol])
	}
	return nil
}

// RecordFill books the newly filled part of order. Repeated calls with the
// same order only book the delta, so monitor polls are idempotent.
func (l *DailyLedger) RecordFill(order contracts.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(order)
}

func (l *DailyLedger) recordLocked(order contracts.Order) {
	prev, seen := l.applied[order.ID]
	delta := order.FilledQty - prev
	if delta <= 0 {
		return
	}
	l.applied[order.ID] = order.FilledQty

	qty := decimal.NewFromInt(delta)
	value := order.AvgFillPrice.Mul(qty)

	switch order.Side {
	case contracts.OrderSideBuy:
		l.buyNotional = l.buyNotional.Add(value)
		if !seen {
			l.buys[order.Symbol]++
		}
		cur := l.costs[order.Symbol]
		cur.qty += delta
		cur.cost = cur.cost.Add(value)
		l.costs[order.Symbol] = cur

	case contracts.OrderSideSell:
		cur := l.costs[order.Symbol]
		if cur.qty <= 0 {
			// bought on an earlier day; cost basis unknown here
			return
		}
		matched := delta
		if matched > cur.qty {
			matched = cur.qty
		}
		avg := cur.cost.Div(decimal.NewFromInt(cur.qty))
		m := decimal.NewFromInt(matched)
		l.realized = l.realized.Add(order.AvgFillPrice.Sub(avg).Mul(m))
		cur.qty -= matched
		cur.cost = cur.cost.Sub(avg.Mul(m))
		l.costs[order.Symbol] = cur
	}
}

// RealizedPnL is today's realized profit (negative = loss)
func (l *DailyLedger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

// BuyNotional is the filled buy value of today
func (l *DailyLedger) BuyNotional() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buyNotional
}

// Summary returns a copy of the counters
func (l *DailyLedger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	buys := make(map[string]int, len(l.buys))
	for k, v := range l.buys {
		buys[k] = v
	}
	return Summary{
		DayKey:      l.dayKey,
		BuyNotional: l.buyNotional.String(),
		RealizedPnL: l.realized.String(),
		BuysPerSym:  buys,
		Orders:      len(l.applied),
	}
}

// =============================================================================
// CacheDomain
// =============================================================================

func (l *DailyLedger) Name() string { return DomainName }

// MidnightClear starts a new day with empty counters
func (l *DailyLedger) MidnightClear(ctx context.Context, lc lifecycle.Context) error {
	l.mu.Lock()
	prev := l.summaryFieldsLocked()
	l.resetLocked(lc.DayKey)
	l.mu.Unlock()

	l.logger.WithFields(prev).WithField("day_key", lc.DayKey).Info("Risk ledger reset")
	return nil
}

// OpenRebuild replays today's fills so a restart keeps the day's exposure
func (l *DailyLedger) OpenRebuild(ctx context.Context, lc lifecycle.Context) error {
	if l.source == nil {
		return nil
	}
	orders, err := l.source.TodayOrders(ctx)
	if err != nil {
		return fmt.Errorf("load today orders: %w", err)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })

	l.mu.Lock()
	l.resetLocked(lc.DayKey)
	for _, o := range orders {
		l.recordLocked(o)
	}
	fields := l.summaryFieldsLocked()
	l.mu.Unlock()

	l.logger.WithFields(fields).Info("Risk ledger rebuilt")
	return nil
}

func (l *DailyLedger) summaryFieldsLocked() map[string]interface{} {
	return map[string]interface{}{
		"buy_notional": l.buyNotional.String(),
		"realized_pnl": l.realized.String(),
		"orders":       len(l.applied),
	}
}
