package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// TrackerDomainName is the lifecycle registration name
const TrackerDomainName = "orders"

// TodayOrdersSource lists the broker's orders of today
type TodayOrdersSource interface {
	TodayOrders(ctx context.Context) ([]contracts.Order, error)
}

// Pending is the monitor's queued-input control
type Pending interface {
	ClearLatestQueued()
}

type tracked struct {
	order    contracts.Order
	reprices int
}

// Update is the outcome of applying a broker order to the tracker
type Update struct {
	Order     contracts.Order
	NewFill   bool // filled qty increased
	Closed    bool // order left the open set
	Untracked bool // order was not known
}

// OrderTracker holds the orders of the current day
// ⭐ SSOT: 당일 주문 상태는 이 트래커에서만
type OrderTracker struct {
	source  TodayOrdersSource
	pending Pending
	logger  *logger.Logger

	mu     sync.RWMutex
	orders map[string]*tracked
}

// NewOrderTracker creates an empty tracker; pending is cleared at midnight
func NewOrderTracker(source TodayOrdersSource, pending Pending, log *logger.Logger) *OrderTracker {
	if log == nil {
		log = logger.Nop()
	}
	return &OrderTracker{
		source:  source,
		pending: pending,
		logger:  log.WithComponent(TrackerDomainName),
		orders:  make(map[string]*tracked),
	}
}

// SetPending wires the monitor after construction
func (t *OrderTracker) SetPending(p Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = p
}

// Track starts tracking a newly submitted order
func (t *OrderTracker) Track(order contracts.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.ID] = &tracked{order: order}
}

// Apply merges the broker's view of an order
func (t *OrderTracker) Apply(order contracts.Order) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.orders[order.ID]
	if !ok {
		t.orders[order.ID] = &tracked{order: order}
		return Update{Order: order, NewFill: order.FilledQty > 0, Closed: !order.IsOpen(), Untracked: true}
	}

	up := Update{
		Order:   order,
		NewFill: order.FilledQty > cur.order.FilledQty,
		Closed:  cur.order.IsOpen() && !order.IsOpen(),
	}
	cur.order = order
	return up
}

// MarkRepriced bumps the reprice count carried over to a replacement order
func (t *OrderTracker) MarkRepriced(oldID string, replacement contracts.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	if old, ok := t.orders[oldID]; ok {
		count = old.reprices
	}
	t.orders[replacement.ID] = &tracked{order: replacement, reprices: count + 1}
}

// Reprices returns how often the order chain was re-priced
func (t *OrderTracker) Reprices(orderID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if o, ok := t.orders[orderID]; ok {
		return o.reprices
	}
	return 0
}

// Get returns a tracked order
func (t *OrderTracker) Get(orderID string) (contracts.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[orderID]
	if !ok {
		return contracts.Order{}, false
	}
	return o.order, true
}

// Open returns open orders, oldest first
func (t *OrderTracker) Open() []contracts.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []contracts.Order
	for _, o := range t.orders {
		if o.order.IsOpen() {
			out = append(out, o.order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HasOpen reports an open order on symbol for side
func (t *OrderTracker) HasOpen(symbol string, side contracts.OrderSide) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, o := range t.orders {
		if o.order.Symbol == symbol && o.order.Side == side && o.order.IsOpen() {
			return true
		}
	}
	return false
}

// Len is the number of orders tracked today
func (t *OrderTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

func (t *OrderTracker) Name() string { return TrackerDomainName }

// MidnightClear forgets yesterday's orders and the monitor's unconsumed input
func (t *OrderTracker) MidnightClear(ctx context.Context, lc lifecycle.Context) error {
	t.mu.Lock()
	dropped := len(t.orders)
	t.orders = make(map[string]*tracked)
	pending := t.pending
	t.mu.Unlock()

	if pending != nil {
		pending.ClearLatestQueued()
	}
	t.logger.WithFields(map[string]interface{}{
		"day_key": lc.DayKey,
		"dropped": dropped,
	}).Info("Order tracker cleared")
	return nil
}

// OpenRebuild reloads today's orders from the broker
func (t *OrderTracker) OpenRebuild(ctx context.Context, lc lifecycle.Context) error {
	if t.source == nil {
		return nil
	}
	orders, err := t.source.TodayOrders(ctx)
	if err != nil {
		return fmt.Errorf("load today orders: %w", err)
	}

	t.mu.Lock()
	t.orders = make(map[string]*tracked, len(orders))
	open := 0
	for _, o := range orders {
		t.orders[o.ID] = &tracked{order: o}
		if o.IsOpen() {
			open++
		}
	}
	t.mu.Unlock()

	t.logger.WithFields(map[string]interface{}{
		"day_key": lc.DayKey,
		"orders":  len(orders),
		"open":    open,
	}).Info("Order tracker rebuilt")
	return nil
}
