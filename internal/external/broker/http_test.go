package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/pkg/config"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

type countingThrottler struct {
	calls atomic.Int32
	err   error
}

func (t *countingThrottler) Throttle(ctx context.Context) error {
	t.calls.Add(1)
	return t.err
}

func newTestBroker(t *testing.T, handler http.HandlerFunc) (*HTTPBroker, *countingThrottler) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	throttler := &countingThrottler{}
	b := NewHTTPBroker(config.BrokerConfig{
		AppKey:      "key",
		AccessToken: "token",
		AccountNo:   "ACC-1",
		BaseURL:     server.URL + "/",
		Timeout:     time.Second,
	}, throttler, logger.Nop())
	b.httpClient.DisableRetry()
	return b, throttler
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    0,
		"message": "ok",
		"data":    data,
	}))
}

func TestHTTPBroker_SubmitOrder(t *testing.T) {
	b, throttler := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/trade/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req contracts.OrderRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "12345.HK", req.Symbol)
		assert.True(t, req.Price.Equal(decimal.RequireFromString("0.125")))

		writeEnvelope(t, w, contracts.Order{
			ID:            "B-1",
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			Price:         req.Price,
			Status:        contracts.StatusSubmitted,
		})
	})

	order, err := b.SubmitOrder(context.Background(), contracts.OrderRequest{
		ClientOrderID: "c-1",
		Symbol:        "12345.HK",
		Side:          contracts.OrderSideBuy,
		Qty:           10000,
		Price:         decimal.RequireFromString("0.125"),
		OrderType:     contracts.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, "B-1", order.ID)
	assert.Equal(t, "c-1", order.ClientOrderID)
	assert.Equal(t, int32(1), throttler.calls.Load())
}

func TestHTTPBroker_SubmitOrderRejected(t *testing.T) {
	b, _ := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, contracts.Order{ID: "B-2", Status: contracts.StatusRejected, Reason: "price out of band"})
	})

	order, err := b.SubmitOrder(context.Background(), contracts.OrderRequest{Symbol: "12345.HK", Qty: 1})
	assert.ErrorIs(t, err, ErrOrderRejected)
	require.NotNil(t, order)
	assert.Equal(t, "B-2", order.ID)
}

func TestHTTPBroker_BrokerErrorCode(t *testing.T) {
	b, _ := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":4001,"message":"session expired"}`))
	})

	_, err := b.TodayOrders(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

func TestHTTPBroker_GetOrderNotFound(t *testing.T) {
	b, _ := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/trade/order/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := b.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestHTTPBroker_CancelOrder(t *testing.T) {
	b, _ := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/trade/order/B-1", r.URL.Path)
		writeEnvelope(t, w, nil)
	})

	assert.NoError(t, b.CancelOrder(context.Background(), "B-1"))
}

func TestHTTPBroker_AccountFillsAccountNo(t *testing.T) {
	b, _ := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/asset/account", r.URL.Path)
		writeEnvelope(t, w, map[string]interface{}{
			"cash":         "100000",
			"buying_power": "90000",
			"positions": []map[string]interface{}{
				{"symbol": "12345.HK", "qty": 20000, "available_qty": 20000, "avg_cost": "0.1"},
			},
		})
	})

	acc, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ACC-1", acc.AccountNo)
	assert.True(t, acc.Cash.Equal(decimal.NewFromInt(100000)))
	require.Len(t, acc.Positions, 1)
	assert.Equal(t, int64(20000), acc.Positions[0].Qty)
}

func TestHTTPBroker_QuoteSnapshot(t *testing.T) {
	b, throttler := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12345.HK,67890.HK", r.URL.Query().Get("symbols"))
		writeEnvelope(t, w, []map[string]interface{}{
			{"symbol": "12345.HK", "last": "0.120", "indicators": map[string]float64{"rsi": 28.5}},
			{"symbol": "67890.HK", "last": "0.340"},
		})
	})

	quotes, err := b.QuoteSnapshot(context.Background(), []string{"12345.HK", "67890.HK"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 28.5, quotes[0].Indicators.RSI)

	// empty request never reaches the API
	quotes, err = b.QuoteSnapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.Equal(t, int32(1), throttler.calls.Load())
}

func TestThrottled_MetersEveryCall(t *testing.T) {
	mock := NewMockBroker(decimal.NewFromInt(1_000_000), nil)
	throttler := &countingThrottler{}
	b := Throttled(mock, throttler)
	ctx := context.Background()

	_, _ = b.Account(ctx)
	_, _ = b.Positions(ctx)
	_, _ = b.TodayOrders(ctx)
	_, _ = b.QuoteSnapshot(ctx, []string{"12345.HK"})
	assert.Equal(t, int32(4), throttler.calls.Load())
	assert.Equal(t, 1, mock.Calls("Account"))
}

func TestThrottled_ErrorSkipsCall(t *testing.T) {
	mock := NewMockBroker(decimal.NewFromInt(1_000_000), nil)
	b := Throttled(mock, &countingThrottler{err: context.Canceled})

	_, err := b.SubmitOrder(context.Background(), contracts.OrderRequest{Symbol: "12345.HK", Qty: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.Calls("SubmitOrder"))
}
