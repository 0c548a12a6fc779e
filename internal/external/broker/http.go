package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/pkg/config"
	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// envelope is the broker's standard response wrapper
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// HTTPBroker talks to the brokerage REST API
// ⭐ SSOT: 브로커 REST API 호출은 이 클라이언트에서만
type HTTPBroker struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	accountNo  string
}

// NewHTTPBroker creates a client. throttler is applied to every request attempt, retries included.
func NewHTTPBroker(cfg config.BrokerConfig, throttler httputil.Throttler, log *logger.Logger) *HTTPBroker {
	if log == nil {
		log = logger.Nop()
	}
	client := httputil.New(log, cfg.Timeout).
		WithThrottler(throttler).
		WithHeader("X-Api-Key", cfg.AppKey).
		WithHeader("Authorization", "Bearer "+cfg.AccessToken)

	return &HTTPBroker{
		httpClient: client,
		logger:     log.WithComponent("broker"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountNo:  cfg.AccountNo,
	}
}

func (b *HTTPBroker) url(path string) string {
	return b.baseURL + path
}

func isNotFound(err error) bool {
	var statusErr *httputil.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

func decode[T any](resp *http.Response, op string) (T, error) {
	var env envelope[T]
	if err := httputil.DecodeJSON(resp, &env); err != nil {
		return env.Data, fmt.Errorf("%s: %w", op, err)
	}
	if env.Code != 0 {
		return env.Data, fmt.Errorf("%s: broker error %d: %s", op, env.Code, env.Message)
	}
	return env.Data, nil
}

// SubmitOrder places an order. A rejection is returned as ErrOrderRejected with the order attached.
func (b *HTTPBroker) SubmitOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.Order, error) {
	resp, err := b.httpClient.PostJSON(ctx, b.url("/v1/trade/order"), req)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}

	order, err := decode[contracts.Order](resp, "submit order")
	if err != nil {
		return nil, err
	}
	if order.Status == contracts.StatusRejected {
		return &order, fmt.Errorf("%w: %s", ErrOrderRejected, order.Reason)
	}

	b.logger.WithFields(map[string]interface{}{
		"order_id":        order.ID,
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty,
		"price":           req.Price.String(),
	}).Info("Order submitted")
	return &order, nil
}

// CancelOrder requests cancellation of an open order
func (b *HTTPBroker) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := b.httpClient.Delete(ctx, b.url("/v1/trade/order/"+url.PathEscape(orderID)))
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if _, err := decode[struct{}](resp, "cancel order"); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("cancel order %s: %w", orderID, ErrOrderNotFound)
		}
		return err
	}
	return nil
}

// GetOrder fetches one order
func (b *HTTPBroker) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	resp, err := b.httpClient.Get(ctx, b.url("/v1/trade/order/"+url.PathEscape(orderID)))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	order, err := decode[contracts.Order](resp, "get order")
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}
	return &order, nil
}

// TodayOrders lists every order placed today
func (b *HTTPBroker) TodayOrders(ctx context.Context) ([]contracts.Order, error) {
	resp, err := b.httpClient.Get(ctx, b.url("/v1/trade/order/today"))
	if err != nil {
		return nil, fmt.Errorf("today orders: %w", err)
	}
	return decode[[]contracts.Order](resp, "today orders")
}

// Positions lists current holdings
func (b *HTTPBroker) Positions(ctx context.Context) ([]contracts.Position, error) {
	resp, err := b.httpClient.Get(ctx, b.url("/v1/asset/positions"))
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return decode[[]contracts.Position](resp, "positions")
}

// Account fetches balance and positions
func (b *HTTPBroker) Account(ctx context.Context) (*contracts.Account, error) {
	resp, err := b.httpClient.Get(ctx, b.url("/v1/asset/account"))
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	acc, err := decode[contracts.Account](resp, "account")
	if err != nil {
		return nil, err
	}
	if acc.AccountNo == "" {
		acc.AccountNo = b.accountNo
	}
	return &acc, nil
}

// QuoteSnapshot fetches the latest quotes with indicators
func (b *HTTPBroker) QuoteSnapshot(ctx context.Context, symbols []string) ([]contracts.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))

	resp, err := b.httpClient.Get(ctx, b.url("/v1/quote/snapshot?"+q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("quote snapshot: %w", err)
	}
	return decode[[]contracts.Quote](resp, "quote snapshot")
}
