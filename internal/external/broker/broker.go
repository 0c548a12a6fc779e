// Package broker is the engine's view of the brokerage: order entry,
// account state and quotes. Every call is metered by the API rate limiter.
package broker

import (
	"context"
	"errors"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/pkg/httputil"
)

var (
	// ErrOrderNotFound is returned for unknown order ids
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected is returned when the broker refuses an order
	ErrOrderRejected = errors.New("order rejected")
)

// Broker is implemented by HTTPBroker (live) and MockBroker (paper, tests)
// ⭐ SSOT: 브로커 호출 인터페이스
type Broker interface {
	SubmitOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*contracts.Order, error)
	TodayOrders(ctx context.Context) ([]contracts.Order, error)
	Positions(ctx context.Context) ([]contracts.Position, error)
	Account(ctx context.Context) (*contracts.Account, error)
	QuoteSnapshot(ctx context.Context, symbols []string) ([]contracts.Quote, error)
}

// Throttled wraps b so every call first passes t.Throttle.
// HTTPBroker throttles inside its HTTP client and does not need this.
func Throttled(b Broker, t httputil.Throttler) Broker {
	return &throttled{next: b, throttler: t}
}

type throttled struct {
	next      Broker
	throttler httputil.Throttler
}

func (t *throttled) SubmitOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.Order, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.SubmitOrder(ctx, req)
}

func (t *throttled) CancelOrder(ctx context.Context, orderID string) error {
	if err := t.throttler.Throttle(ctx); err != nil {
		return err
	}
	return t.next.CancelOrder(ctx, orderID)
}

func (t *throttled) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.GetOrder(ctx, orderID)
}

func (t *throttled) TodayOrders(ctx context.Context) ([]contracts.Order, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.TodayOrders(ctx)
}

func (t *throttled) Positions(ctx context.Context) ([]contracts.Position, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.Positions(ctx)
}

func (t *throttled) Account(ctx context.Context) (*contracts.Account, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.Account(ctx)
}

func (t *throttled) QuoteSnapshot(ctx context.Context, symbols []string) ([]contracts.Quote, error) {
	if err := t.throttler.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.QuoteSnapshot(ctx, symbols)
}
