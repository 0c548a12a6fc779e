package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/cooldown"
	"github.com/wonny/aegis-warrant/internal/external/broker"
	"github.com/wonny/aegis-warrant/internal/risk"
)

func TestExecutor_BuyPlacesOrder(t *testing.T) {
	env := newTestEnv(t)
	ex := env.executor()

	ok := ex.ProcessBuy(context.Background(), buyTask(quoteAt(sym, "0.2", 25)))
	require.True(t, ok)

	assert.Equal(t, 1, env.broker.Calls("SubmitOrder"))
	assert.Equal(t, 1, env.tracker.Len())
	assert.True(t, env.ledger.BuyNotional().Equal(dec("2000")), env.ledger.BuyNotional().String())
	assert.True(t, env.cooldowns.Active(cooldown.Key(sym, "BUY"), time.Minute))

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.account.WaitForFresh(waitCtx))
	pos, held := env.account.Position(sym)
	require.True(t, held)
	assert.Equal(t, int64(10000), pos.Qty)
}

func TestExecutor_BuySkips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv) string
		want  error
	}{
		{
			name: "trading disabled",
			setup: func(env *testEnv) string {
				env.gate.on.Store(false)
				return sym
			},
			want: ErrTradingDisabled,
		},
		{
			name:  "not seated",
			setup: func(env *testEnv) string { return "99999.HK" },
			want:  ErrNotSeated,
		},
		{
			name: "cooldown",
			setup: func(env *testEnv) string {
				env.cooldowns.Record(cooldown.Key(sym, "BUY"), env.clk.Now())
				return sym
			},
			want: ErrCooldownActive,
		},
		{
			name: "position held",
			setup: func(env *testEnv) string {
				env.broker.SetPosition(contracts.Position{Symbol: sym, Qty: 1000, AvailableQty: 1000, AvgCost: dec("0.2")})
				require.NoError(t, env.account.Refresh(context.Background()))
				return sym
			},
			want: ErrPositionHeld,
		},
		{
			name: "risk limit",
			setup: func(env *testEnv) string {
				env.ledger.SetLimits(risk.Limits{MaxDailyNotional: dec("1000")})
				return sym
			},
			want: risk.ErrNotionalLimit,
		},
		{
			name: "buying power",
			setup: func(env *testEnv) string {
				env.strategy.Order.Qty = 1_000_000
				return sym
			},
			want: ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			symbol := tt.setup(env)
			ex := env.executor()

			err := ex.buy(context.Background(), buyTask(quoteAt(symbol, "0.2", 25)).Payload)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, IsSkip(err))
			assert.Equal(t, 0, env.broker.Calls("SubmitOrder"))

			// skips count as handled
			assert.True(t, ex.finish(buyTask(quoteAt(symbol, "0.2", 25)), err))
		})
	}
}

func TestExecutor_BrokerFailureIsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.broker.FailNext("SubmitOrder", errors.New("gateway timeout"))
	ex := env.executor()

	assert.False(t, ex.ProcessBuy(context.Background(), buyTask(quoteAt(sym, "0.2", 25))))
	assert.False(t, env.cooldowns.Active(cooldown.Key(sym, "BUY"), time.Minute), "no cooldown when the order never reached the book")
}

func TestExecutor_RejectionStartsCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.broker.FailNext("SubmitOrder", fmt.Errorf("%w: price out of band", broker.ErrOrderRejected))
	ex := env.executor()

	assert.False(t, ex.ProcessBuy(context.Background(), buyTask(quoteAt(sym, "0.2", 25))))
	assert.True(t, env.cooldowns.Active(cooldown.Key(sym, "BUY"), time.Minute))
}

func TestExecutor_StaleAccountTimesOut(t *testing.T) {
	env := newTestEnv(t)
	env.account.Refresher().Stop()
	env.account.RequestRefresh() // stale, nobody will refresh

	ex := NewExecutor(env.deps, ExecutorConfig{RefreshWait: 20 * time.Millisecond})
	err := ex.buy(context.Background(), buyTask(quoteAt(sym, "0.2", 25)).Payload)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsSkip(err))
	assert.Equal(t, 0, env.broker.Calls("SubmitOrder"))
}

func TestExecutor_SellWholeAvailablePosition(t *testing.T) {
	env := newTestEnv(t)
	env.broker.SetPosition(contracts.Position{Symbol: sym, Qty: 20000, AvailableQty: 15000, AvgCost: dec("0.2")})
	require.NoError(t, env.account.Refresh(context.Background()))
	ex := env.executor()

	q := quoteAt(sym, "0.25", 75)
	q.Bid = dec("0.245")
	require.True(t, ex.ProcessSell(context.Background(), sellTask(q)))

	orders, err := env.broker.TodayOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, contracts.OrderSideSell, orders[0].Side)
	assert.Equal(t, int64(15000), orders[0].Qty)
	assert.True(t, orders[0].Price.Equal(dec("0.245")))
}

func TestExecutor_SellWithoutPosition(t *testing.T) {
	env := newTestEnv(t)
	ex := env.executor()

	err := ex.sell(context.Background(), sellTask(quoteAt(sym, "0.25", 75)).Payload)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestExecutor_MarketOrderSendsNoPrice(t *testing.T) {
	env := newTestEnv(t)
	env.strategy.Order.Type = "MARKET"
	env.broker.SetQuote(quoteAt(sym, "0.2", 25))
	ex := env.executor()

	require.True(t, ex.ProcessBuy(context.Background(), buyTask(quoteAt(sym, "0.2", 25))))
	orders, _ := env.broker.TodayOrders(context.Background())
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Price.IsZero())
	assert.Equal(t, contracts.StatusFilled, orders[0].Status)
}
