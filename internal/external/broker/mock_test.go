package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMock() *MockBroker {
	return NewMockBroker(dec("10000"), clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))
}

func buy(symbol string, qty int64, price string) contracts.OrderRequest {
	return contracts.OrderRequest{
		ClientOrderID: "c-" + symbol,
		Symbol:        symbol,
		Side:          contracts.OrderSideBuy,
		Qty:           qty,
		Price:         dec(price),
		OrderType:     contracts.OrderTypeLimit,
	}
}

func TestMockBroker_BuyFillsAndUpdatesAccount(t *testing.T) {
	m := newMock()
	ctx := context.Background()

	order, err := m.SubmitOrder(ctx, buy("12345.HK", 10000, "0.2"))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusFilled, order.Status)
	assert.Equal(t, int64(10000), order.FilledQty)

	acc, err := m.Account(ctx)
	require.NoError(t, err)
	assert.True(t, acc.Cash.Equal(dec("8000")), acc.Cash.String())
	pos, ok := acc.Position("12345.HK")
	require.True(t, ok)
	assert.Equal(t, int64(10000), pos.Qty)
	assert.True(t, pos.AvgCost.Equal(dec("0.2")))
}

func TestMockBroker_SellClosesPosition(t *testing.T) {
	m := newMock()
	ctx := context.Background()

	_, err := m.SubmitOrder(ctx, buy("12345.HK", 10000, "0.2"))
	require.NoError(t, err)

	sell := buy("12345.HK", 10000, "0.25")
	sell.Side = contracts.OrderSideSell
	_, err = m.SubmitOrder(ctx, sell)
	require.NoError(t, err)

	positions, err := m.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	acc, _ := m.Account(ctx)
	assert.True(t, acc.Cash.Equal(dec("10500")), acc.Cash.String())
}

func TestMockBroker_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  contracts.OrderRequest
	}{
		{"insufficient cash", buy("12345.HK", 100000, "0.2")},
		{"zero qty", buy("12345.HK", 0, "0.2")},
		{"sell without position", func() contracts.OrderRequest {
			r := buy("12345.HK", 1000, "0.2")
			r.Side = contracts.OrderSideSell
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			order, err := m.SubmitOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrOrderRejected)
			require.NotNil(t, order)
			assert.Equal(t, contracts.StatusRejected, order.Status)
		})
	}
}

func TestMockBroker_FillNeverAndPartialFill(t *testing.T) {
	m := newMock()
	m.SetFillMode(FillNever)
	ctx := context.Background()

	order, err := m.SubmitOrder(ctx, buy("12345.HK", 10000, "0.2"))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSubmitted, order.Status)

	require.NoError(t, m.Fill(order.ID, 4000, dec("0.2")))
	got, err := m.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusPartial, got.Status)
	assert.Equal(t, int64(6000), got.RemainingQty())

	require.NoError(t, m.CancelOrder(ctx, order.ID))
	got, _ = m.GetOrder(ctx, order.ID)
	assert.Equal(t, contracts.StatusCanceled, got.Status)

	assert.Error(t, m.CancelOrder(ctx, order.ID), "cancelled order cannot be cancelled again")
	assert.ErrorIs(t, m.CancelOrder(ctx, "nope"), ErrOrderNotFound)
}

func TestMockBroker_MarketOrderUsesQuote(t *testing.T) {
	m := newMock()
	m.SetQuote(contracts.Quote{Symbol: "12345.HK", Last: dec("0.15")})

	req := buy("12345.HK", 10000, "0")
	req.OrderType = contracts.OrderTypeMarket
	order, err := m.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, order.AvgFillPrice.Equal(dec("0.15")))
}

func TestMockBroker_FailNextAndCalls(t *testing.T) {
	m := newMock()
	boom := errors.New("gateway timeout")
	m.FailNext("TodayOrders", boom)
	ctx := context.Background()

	_, err := m.TodayOrders(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = m.TodayOrders(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.Calls("TodayOrders"))
}

func TestMockBroker_QuoteSnapshotKnownOnly(t *testing.T) {
	m := newMock()
	m.SetQuote(contracts.Quote{Symbol: "12345.HK", Last: dec("0.15")})

	quotes, err := m.QuoteSnapshot(context.Background(), []string{"12345.HK", "99999.HK"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "12345.HK", quotes[0].Symbol)
}
