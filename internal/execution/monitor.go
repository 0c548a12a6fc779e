package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/flight"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// Quotes is the monitor's input: the latest quote per symbol
type Quotes map[string]contracts.Quote

// OrderMonitor follows open orders: books fills, re-prices or cancels stale ones
// ⭐ SSOT: 체결 모니터링 로직은 여기서만 (single-flight)
type OrderMonitor struct {
	deps   Deps
	worker *flight.Worker[Quotes]
	logger *logger.Logger
}

// NewOrderMonitor creates the monitor and its single-flight worker
func NewOrderMonitor(deps Deps, m *metrics.Metrics) *OrderMonitor {
	deps.defaults()
	mon := &OrderMonitor{
		deps:   deps,
		logger: deps.Logger.WithComponent("order_monitor"),
	}
	mon.worker = flight.New("order_monitor", mon.check, mon.onError, deps.Logger, m)
	deps.Tracker.SetPending(mon.worker)
	return mon
}

// Worker exposes the single-flight worker for start/drain
func (m *OrderMonitor) Worker() *flight.Worker[Quotes] {
	return m.worker
}

// Schedule queues a pass over open orders with the given quotes.
// Nothing is scheduled while no order is open.
func (m *OrderMonitor) Schedule(quotes Quotes) bool {
	if len(m.deps.Tracker.Open()) == 0 {
		return false
	}
	return m.worker.Schedule(quotes)
}

func (m *OrderMonitor) onError(quotes Quotes, err error) {
	m.logger.WithError(err).WithField("quotes", len(quotes)).Warn("Order monitor pass failed")
}

// check is one monitor pass; per-order errors are joined, the pass continues
func (m *OrderMonitor) check(ctx context.Context, quotes Quotes) error {
	var errs []error
	for _, open := range m.deps.Tracker.Open() {
		if err := m.follow(ctx, open, quotes); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", open.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *OrderMonitor) follow(ctx context.Context, open contracts.Order, quotes Quotes) error {
	fetched, err := m.deps.Broker.GetOrder(ctx, open.ID)
	if err != nil {
		return err
	}
	m.apply(ctx, *fetched)

	if !fetched.IsOpen() {
		return nil
	}

	cfg := m.deps.Strategy()
	if m.deps.Clock.Now().Sub(fetched.CreatedAt) < cfg.Order.StaleAfter {
		return nil
	}
	return m.handleStale(ctx, *fetched, quotes[fetched.Symbol], cfg.Order.MaxReprice)
}

// apply merges a broker order into the tracker and books new fills
func (m *OrderMonitor) apply(ctx context.Context, order contracts.Order) {
	up := m.deps.Tracker.Apply(order)
	if up.NewFill {
		m.deps.Risk.RecordFill(order)
		m.deps.Account.RequestRefresh()
		m.logger.WithFields(map[string]interface{}{
			"order_id":   order.ID,
			"symbol":     order.Symbol,
			"side":       order.Side,
			"filled_qty": order.FilledQty,
			"avg_price":  order.AvgFillPrice.String(),
			"status":     order.Status,
		}).Info("Order fill detected")
	}
	if (up.NewFill || up.Closed) && m.deps.Journal != nil {
		if err := m.deps.Journal.SaveOrder(ctx, m.deps.DayKey(), &order); err != nil {
			m.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to journal order")
		}
	}
}

// handleStale cancels the order and, while allowed, re-submits the remainder at the current quote
func (m *OrderMonitor) handleStale(ctx context.Context, order contracts.Order, q contracts.Quote, maxReprice int) error {
	if err := m.deps.Broker.CancelOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("cancel stale order: %w", err)
	}
	cancelled := order
	cancelled.Status = contracts.StatusCanceled
	cancelled.UpdatedAt = m.deps.Clock.Now()
	m.apply(ctx, cancelled)

	remaining := order.RemainingQty()
	reprices := m.deps.Tracker.Reprices(order.ID)
	if remaining <= 0 || reprices >= maxReprice || !q.Valid() || !m.deps.Gate.IsTradingEnabled() {
		m.logger.WithFields(map[string]interface{}{
			"order_id":  order.ID,
			"symbol":    order.Symbol,
			"remaining": remaining,
			"reprices":  reprices,
		}).Info("Stale order cancelled")
		return nil
	}

	price := buyPrice(q)
	if order.Side == contracts.OrderSideSell {
		price = sellPrice(q)
	}
	req := contracts.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        order.Symbol,
		Underlying:    order.Underlying,
		Side:          order.Side,
		Qty:           remaining,
		Price:         price,
		OrderType:     order.OrderType,
		Reason:        fmt.Sprintf("reprice %d of %s", reprices+1, order.ID),
	}

	replacement, err := m.deps.Broker.SubmitOrder(ctx, req)
	if replacement != nil {
		m.deps.Tracker.MarkRepriced(order.ID, *replacement)
		if m.deps.Journal != nil {
			if jerr := m.deps.Journal.SaveOrder(ctx, m.deps.DayKey(), replacement); jerr != nil {
				m.logger.WithError(jerr).Warn("Failed to journal order")
			}
		}
	}
	if err != nil {
		return fmt.Errorf("re-submit: %w", err)
	}

	m.deps.Account.RequestRefresh()
	if replacement.FilledQty > 0 {
		m.deps.Risk.RecordFill(*replacement)
	}
	m.logger.WithFields(map[string]interface{}{
		"old_order_id": order.ID,
		"order_id":     replacement.ID,
		"symbol":       order.Symbol,
		"qty":          remaining,
		"price":        price.String(),
	}).Info("Stale order re-priced")
	return nil
}
