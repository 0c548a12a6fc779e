package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
)

// FillMode controls how MockBroker treats new orders
type FillMode int

const (
	FillImmediately FillMode = iota // orders fill in full at their price
	FillNever                       // orders stay open until Fill or Cancel
)

// MockBroker is an in-memory broker for paper trading and tests
type MockBroker struct {
	clock clock.Clock

	mu        sync.Mutex
	mode      FillMode
	cash      decimal.Decimal
	accountNo string
	orders    map[string]*contracts.Order
	order     []string // insertion order
	positions map[string]*contracts.Position
	quotes    map[string]contracts.Quote
	failures  map[string]error
	calls     map[string]int
}

// NewMockBroker starts with the given cash and no positions
func NewMockBroker(cash decimal.Decimal, clk clock.Clock) *MockBroker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MockBroker{
		clock:     clk,
		cash:      cash,
		accountNo: "PAPER",
		orders:    make(map[string]*contracts.Order),
		positions: make(map[string]*contracts.Position),
		quotes:    make(map[string]contracts.Quote),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// SetFillMode changes how subsequent orders are handled
func (m *MockBroker) SetFillMode(mode FillMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SetQuote seeds a quote returned by QuoteSnapshot
func (m *MockBroker) SetQuote(q contracts.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = q
}

// SetPosition seeds a holding
func (m *MockBroker) SetPosition(p contracts.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.positions[p.Symbol] = &cp
}

// FailNext makes the next call of op (method name) return err
func (m *MockBroker) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Calls returns how often op was invoked
func (m *MockBroker) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter records the call and pops an injected failure; mu must be held
func (m *MockBroker) enter(op string) error {
	m.calls[op]++
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("SubmitOrder"); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	order := &contracts.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Underlying:    req.Underlying,
		Side:          req.Side,
		Qty:           req.Qty,
		Price:         req.Price,
		OrderType:     req.OrderType,
		Status:        contracts.StatusSubmitted,
		Reason:        req.Reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if reason := m.rejectReason(req); reason != "" {
		order.Status = contracts.StatusRejected
		order.Reason = reason
		m.store(order)
		cp := *order
		return &cp, fmt.Errorf("%w: %s", ErrOrderRejected, reason)
	}

	m.store(order)
	if m.mode == FillImmediately {
		m.fill(order, order.Qty, m.fillPrice(req))
	}

	cp := *order
	return &cp, nil
}

func (m *MockBroker) rejectReason(req contracts.OrderRequest) string {
	if req.Qty <= 0 {
		return "invalid quantity"
	}
	switch req.Side {
	case contracts.OrderSideBuy:
		if m.fillPrice(req).Mul(decimal.NewFromInt(req.Qty)).GreaterThan(m.cash) {
			return "insufficient cash"
		}
	case contracts.OrderSideSell:
		pos, ok := m.positions[req.Symbol]
		if !ok || pos.AvailableQty < req.Qty {
			return "insufficient position"
		}
	}
	return ""
}

func (m *MockBroker) fillPrice(req contracts.OrderRequest) decimal.Decimal {
	if req.OrderType == contracts.OrderTypeMarket || req.Price.IsZero() {
		if q, ok := m.quotes[req.Symbol]; ok {
			return q.Last
		}
	}
	return req.Price
}

func (m *MockBroker) store(order *contracts.Order) {
	m.orders[order.ID] = order
	m.order = append(m.order, order.ID)
}

// fill applies qty at price to the order, cash and positions; mu must be held
func (m *MockBroker) fill(order *contracts.Order, qty int64, price decimal.Decimal) {
	if qty > order.RemainingQty() {
		qty = order.RemainingQty()
	}
	if qty <= 0 {
		return
	}

	filledValue := order.AvgFillPrice.Mul(decimal.NewFromInt(order.FilledQty))
	order.FilledQty += qty
	order.AvgFillPrice = filledValue.Add(price.Mul(decimal.NewFromInt(qty))).Div(decimal.NewFromInt(order.FilledQty))
	order.UpdatedAt = m.clock.Now()
	if order.FilledQty >= order.Qty {
		order.Status = contracts.StatusFilled
	} else {
		order.Status = contracts.StatusPartial
	}

	notional := price.Mul(decimal.NewFromInt(qty))
	pos, ok := m.positions[order.Symbol]
	if !ok {
		pos = &contracts.Position{Symbol: order.Symbol}
		m.positions[order.Symbol] = pos
	}

	switch order.Side {
	case contracts.OrderSideBuy:
		m.cash = m.cash.Sub(notional)
		cost := pos.Cost().Add(notional)
		pos.Qty += qty
		pos.AvailableQty += qty
		pos.AvgCost = cost.Div(decimal.NewFromInt(pos.Qty))
	case contracts.OrderSideSell:
		m.cash = m.cash.Add(notional)
		pos.Qty -= qty
		pos.AvailableQty -= qty
		if pos.Qty <= 0 {
			delete(m.positions, order.Symbol)
		}
	}
}

// Fill fills qty of an open order at price (FillNever mode)
func (m *MockBroker) Fill(orderID string, qty int64, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if !order.IsOpen() {
		return fmt.Errorf("order %s is %s", orderID, order.Status)
	}
	m.fill(order, qty, price)
	return nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("CancelOrder"); err != nil {
		return err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel order %s: %w", orderID, ErrOrderNotFound)
	}
	if !order.IsOpen() {
		return fmt.Errorf("cancel order %s: already %s", orderID, order.Status)
	}
	order.Status = contracts.StatusCanceled
	order.UpdatedAt = m.clock.Now()
	return nil
}

func (m *MockBroker) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("GetOrder"); err != nil {
		return nil, err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
	}
	cp := *order
	return &cp, nil
}

func (m *MockBroker) TodayOrders(ctx context.Context) ([]contracts.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("TodayOrders"); err != nil {
		return nil, err
	}
	out := make([]contracts.Order, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.orders[id])
	}
	return out, nil
}

func (m *MockBroker) Positions(ctx context.Context) ([]contracts.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Positions"); err != nil {
		return nil, err
	}
	return m.positionList(), nil
}

func (m *MockBroker) positionList() []contracts.Position {
	out := make([]contracts.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *MockBroker) Account(ctx context.Context) (*contracts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("Account"); err != nil {
		return nil, err
	}
	return &contracts.Account{
		AccountNo:   m.accountNo,
		Cash:        m.cash,
		BuyingPower: m.cash,
		Positions:   m.positionList(),
		UpdatedAt:   m.clock.Now(),
	}, nil
}

func (m *MockBroker) QuoteSnapshot(ctx context.Context, symbols []string) ([]contracts.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("QuoteSnapshot"); err != nil {
		return nil, err
	}
	out := make([]contracts.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
