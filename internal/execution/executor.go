// Package execution turns signals into orders: the dispatcher feeds the buy
// and sell queues, the executor drains them, the monitor follows open orders.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/cooldown"
	"github.com/wonny/aegis-warrant/internal/external/broker"
	"github.com/wonny/aegis-warrant/internal/risk"
	"github.com/wonny/aegis-warrant/internal/seat"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// Skip reasons. A skipped task counts as handled, not failed.
var (
	ErrTradingDisabled   = errors.New("trading disabled")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrNotSeated         = errors.New("symbol holds no seat")
	ErrPositionHeld      = errors.New("position already held")
	ErrNoPosition        = errors.New("no position to sell")
	ErrOrderPending      = errors.New("order already open")
	ErrInsufficientFunds = errors.New("insufficient buying power")
)

var skipErrors = []error{
	ErrTradingDisabled, ErrCooldownActive, ErrNotSeated, ErrPositionHeld, ErrNoPosition,
	ErrOrderPending, ErrInsufficientFunds,
	risk.ErrNotionalLimit, risk.ErrLossLimit, risk.ErrSymbolLimit,
}

// IsSkip reports whether err is a deliberate skip rather than a failure
func IsSkip(err error) bool {
	for _, target := range skipErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// AccountView is the part of the account cache the executor needs
type AccountView interface {
	WaitForFresh(ctx context.Context) error
	Position(symbol string) (contracts.Position, bool)
	BuyingPower() decimal.Decimal
	RequestRefresh() uint64
}

// RiskBook checks and books daily exposure
type RiskBook interface {
	CheckBuy(symbol string, notional decimal.Decimal) error
	RecordFill(order contracts.Order)
}

// SeatView answers which symbols currently trade
type SeatView interface {
	IsActive(symbol string) bool
	SeatOf(symbol string) (seat.Assignment, bool)
}

// Journal persists orders
type Journal interface {
	SaveOrder(ctx context.Context, dayKey string, order *contracts.Order) error
}

// StrategyFunc returns the active strategy
type StrategyFunc func() *strategyconfig.Config

// Deps are the collaborators shared by executor, monitor and dispatcher
type Deps struct {
	Broker    broker.Broker
	Gate      contracts.TradingGate
	Cooldowns *cooldown.Tracker
	Risk      RiskBook
	Account   AccountView
	Seats     SeatView
	Tracker   *OrderTracker
	Journal   Journal // optional
	Strategy  StrategyFunc
	DayKey    func() string
	Clock     clock.Clock
	Logger    *logger.Logger
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.DayKey == nil {
		d.DayKey = func() string { return "" }
	}
}

// ExecutorConfig holds the processing knobs that live in env config
type ExecutorConfig struct {
	RefreshWait  time.Duration // bound on WaitForFresh
	BuyCooldown  time.Duration // used when the strategy sets none
	SellCooldown time.Duration
}

// Executor implements the buy and sell ProcessFuncs
// ⭐ SSOT: 주문 제출은 이 실행기에서만 (거래 가능 여부 확인 필수)
type Executor struct {
	deps   Deps
	cfg    ExecutorConfig
	logger *logger.Logger
}

// NewExecutor creates an executor
func NewExecutor(deps Deps, cfg ExecutorConfig) *Executor {
	deps.defaults()
	if cfg.RefreshWait <= 0 {
		cfg.RefreshWait = 5 * time.Second
	}
	return &Executor{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.WithComponent("executor"),
	}
}

// ProcessBuy is the buy queue's ProcessFunc
func (e *Executor) ProcessBuy(ctx context.Context, task taskqueue.Task[Signal]) bool {
	return e.finish(task, e.buy(ctx, task.Payload))
}

// ProcessSell is the sell queue's ProcessFunc; it also serves liquidations
func (e *Executor) ProcessSell(ctx context.Context, task taskqueue.Task[Signal]) bool {
	return e.finish(task, e.sell(ctx, task.Payload))
}

func (e *Executor) finish(task taskqueue.Task[Signal], err error) bool {
	if err == nil {
		return true
	}
	fields := map[string]interface{}{
		"task_id": task.ID,
		"type":    task.Type,
		"symbol":  task.Payload.Symbol,
		"reason":  err.Error(),
	}
	if IsSkip(err) {
		e.logger.WithFields(fields).Info("Task skipped")
		return true
	}
	e.logger.WithFields(fields).Warn("Task failed")
	return false
}

func (e *Executor) cooldowns(cfg *strategyconfig.Config) (buy, sell time.Duration) {
	buy, sell = e.cfg.BuyCooldown, e.cfg.SellCooldown
	if cfg != nil && cfg.Cooldowns.Buy > 0 {
		buy = cfg.Cooldowns.Buy
	}
	if cfg != nil && cfg.Cooldowns.Sell > 0 {
		sell = cfg.Cooldowns.Sell
	}
	return buy, sell
}

func (e *Executor) checkCooldown(key string, d time.Duration) error {
	if rem := e.deps.Cooldowns.Remaining(key, d); rem > 0 {
		return fmt.Errorf("%w: %s remaining", ErrCooldownActive, rem.Round(time.Millisecond))
	}
	return nil
}

func (e *Executor) waitFresh(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.RefreshWait)
	defer cancel()
	if err := e.deps.Account.WaitForFresh(waitCtx); err != nil {
		return fmt.Errorf("account not refreshed: %w", err)
	}
	return nil
}

func (e *Executor) buy(ctx context.Context, sig Signal) error {
	if !e.deps.Gate.IsTradingEnabled() {
		return ErrTradingDisabled
	}
	if !e.deps.Seats.IsActive(sig.Symbol) {
		return ErrNotSeated
	}

	cfg := e.deps.Strategy()
	buyCooldown, _ := e.cooldowns(cfg)
	key := cooldown.Key(sig.Symbol, string(contracts.OrderSideBuy))
	if err := e.checkCooldown(key, buyCooldown); err != nil {
		return err
	}
	if e.deps.Tracker.HasOpen(sig.Symbol, contracts.OrderSideBuy) {
		return ErrOrderPending
	}

	if err := e.waitFresh(ctx); err != nil {
		return err
	}
	if pos, ok := e.deps.Account.Position(sig.Symbol); ok && pos.Qty > 0 {
		return ErrPositionHeld
	}

	price := buyPrice(sig.Quote)
	notional := price.Mul(decimal.NewFromInt(cfg.Order.Qty))
	if err := e.deps.Risk.CheckBuy(sig.Symbol, notional); err != nil {
		return err
	}
	if bp := e.deps.Account.BuyingPower(); notional.GreaterThan(bp) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, notional, bp)
	}

	return e.submit(ctx, key, e.request(cfg, sig, contracts.OrderSideBuy, cfg.Order.Qty, price))
}

func (e *Executor) sell(ctx context.Context, sig Signal) error {
	if !e.deps.Gate.IsTradingEnabled() {
		return ErrTradingDisabled
	}

	cfg := e.deps.Strategy()
	_, sellCooldown := e.cooldowns(cfg)
	key := cooldown.Key(sig.Symbol, string(contracts.OrderSideSell))
	if err := e.checkCooldown(key, sellCooldown); err != nil {
		return err
	}
	if e.deps.Tracker.HasOpen(sig.Symbol, contracts.OrderSideSell) {
		return ErrOrderPending
	}

	if err := e.waitFresh(ctx); err != nil {
		return err
	}
	pos, ok := e.deps.Account.Position(sig.Symbol)
	if !ok || pos.AvailableQty <= 0 {
		return ErrNoPosition
	}

	return e.submit(ctx, key, e.request(cfg, sig, contracts.OrderSideSell, pos.AvailableQty, sellPrice(sig.Quote)))
}

func (e *Executor) request(cfg *strategyconfig.Config, sig Signal, side contracts.OrderSide, qty int64, price decimal.Decimal) contracts.OrderRequest {
	orderType := contracts.OrderType(cfg.Order.Type)
	if orderType == contracts.OrderTypeMarket {
		price = decimal.Zero
	}
	return contracts.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        sig.Symbol,
		Underlying:    sig.Underlying,
		Side:          side,
		Qty:           qty,
		Price:         price,
		OrderType:     orderType,
		Reason:        sig.Reason,
	}
}

// submit places req; the cooldown starts whether the broker accepts or rejects
func (e *Executor) submit(ctx context.Context, cooldownKey string, req contracts.OrderRequest) error {
	// waits above may have crossed a lifecycle transition
	if !e.deps.Gate.IsTradingEnabled() {
		return ErrTradingDisabled
	}

	order, err := e.deps.Broker.SubmitOrder(ctx, req)
	now := e.deps.Clock.Now()
	if order != nil {
		e.deps.Tracker.Track(*order)
		e.journal(ctx, order)
	}
	if err != nil {
		if errors.Is(err, broker.ErrOrderRejected) {
			e.deps.Cooldowns.Record(cooldownKey, now)
		}
		return fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}

	e.deps.Cooldowns.Record(cooldownKey, now)
	e.deps.Account.RequestRefresh()
	if order.FilledQty > 0 {
		e.deps.Risk.RecordFill(*order)
	}

	e.logger.WithFields(map[string]interface{}{
		"order_id":        order.ID,
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty,
		"price":           req.Price.String(),
		"status":          order.Status,
		"reason":          req.Reason,
	}).Info("Order placed")
	return nil
}

func (e *Executor) journal(ctx context.Context, order *contracts.Order) {
	if e.deps.Journal == nil {
		return
	}
	if err := e.deps.Journal.SaveOrder(ctx, e.deps.DayKey(), order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to journal order")
	}
}
