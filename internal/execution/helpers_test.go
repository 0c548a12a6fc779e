package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/internal/account"
	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/cooldown"
	"github.com/wonny/aegis-warrant/internal/external/broker"
	"github.com/wonny/aegis-warrant/internal/risk"
	"github.com/wonny/aegis-warrant/internal/seat"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
)

const sym = "12345.HK"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type tradingGate struct{ on atomic.Bool }

func (g *tradingGate) IsTradingEnabled() bool { return g.on.Load() }

type testEnv struct {
	clk       *clock.Manual
	broker    *broker.MockBroker
	gate      *tradingGate
	account   *account.Cache
	ledger    *risk.DailyLedger
	seats     *seat.Allocator
	tracker   *OrderTracker
	cooldowns *cooldown.Tracker
	strategy  *strategyconfig.Config
	deps      Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	b := broker.NewMockBroker(dec("100000"), clk)

	cfg := &strategyconfig.Config{
		Watchlist: []strategyconfig.Seat{
			{Underlying: "HSI", Direction: strategyconfig.DirectionBull, Warrants: []string{sym}},
		},
		Signals: strategyconfig.Signals{
			Buy:  strategyconfig.BuySignal{RSIBelow: 30},
			Sell: strategyconfig.SellSignal{RSIAbove: 70, TakeProfitPct: 0.1},
		},
		Order:     strategyconfig.Order{Qty: 10000, Type: "LIMIT", StaleAfter: 30 * time.Second, MaxReprice: 1},
		Cooldowns: strategyconfig.Cooldowns{Buy: time.Minute, Sell: time.Minute},
	}

	acct := account.NewCache(b, clk, nil, nil)
	acct.Refresher().Start(ctx)
	t.Cleanup(acct.Refresher().Stop)
	require.NoError(t, acct.Refresh(ctx))

	seats := seat.NewAllocator(func() []strategyconfig.Seat { return cfg.Watchlist }, clk, nil)
	seats.Assign()

	g := &tradingGate{}
	g.on.Store(true)

	env := &testEnv{
		clk:       clk,
		broker:    b,
		gate:      g,
		account:   acct,
		ledger:    risk.NewDailyLedger(risk.Limits{}, b, nil),
		seats:     seats,
		tracker:   NewOrderTracker(b, nil, nil),
		cooldowns: cooldown.NewTracker(clk),
		strategy:  cfg,
	}
	env.deps = Deps{
		Broker:    b,
		Gate:      g,
		Cooldowns: env.cooldowns,
		Risk:      env.ledger,
		Account:   acct,
		Seats:     seats,
		Tracker:   env.tracker,
		Strategy:  func() *strategyconfig.Config { return cfg },
		DayKey:    func() string { return "2026-03-02" },
		Clock:     clk,
	}
	return env
}

func (e *testEnv) executor() *Executor {
	return NewExecutor(e.deps, ExecutorConfig{RefreshWait: time.Second})
}

func quoteAt(symbol, last string, rsi float64) contracts.Quote {
	return contracts.Quote{
		Symbol:     symbol,
		Underlying: "HSI",
		Last:       dec(last),
		Indicators: contracts.Indicators{RSI: rsi},
	}
}

func buyTask(q contracts.Quote) taskqueue.Task[Signal] {
	return taskqueue.Task[Signal]{
		ID:        "t-1",
		Type:      taskqueue.TaskBuy,
		DedupeKey: q.Symbol,
		Payload:   Signal{Symbol: q.Symbol, Underlying: "HSI", Quote: q, Reason: "test"},
	}
}

func sellTask(q contracts.Quote) taskqueue.Task[Signal] {
	task := buyTask(q)
	task.Type = taskqueue.TaskSell
	return task
}
