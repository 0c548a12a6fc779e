// Package engine assembles the trading engine: broker, cache domains, task
// queues, single-flight workers, the day lifecycle and the control loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/account"
	"github.com/wonny/aegis-warrant/internal/calendar"
	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/cooldown"
	"github.com/wonny/aegis-warrant/internal/execution"
	"github.com/wonny/aegis-warrant/internal/external/broker"
	"github.com/wonny/aegis-warrant/internal/external/hkex"
	"github.com/wonny/aegis-warrant/internal/flight"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/internal/marketdata"
	"github.com/wonny/aegis-warrant/internal/ratelimit"
	"github.com/wonny/aegis-warrant/internal/refresh"
	"github.com/wonny/aegis-warrant/internal/risk"
	"github.com/wonny/aegis-warrant/internal/scheduler"
	"github.com/wonny/aegis-warrant/internal/scheduler/jobs"
	"github.com/wonny/aegis-warrant/internal/seat"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
	"github.com/wonny/aegis-warrant/internal/taskqueue"
	"github.com/wonny/aegis-warrant/pkg/config"
	"github.com/wonny/aegis-warrant/pkg/database"
	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
	"github.com/wonny/aegis-warrant/pkg/redis"
)

// CachePrefix namespaces every Redis key the engine writes
const CachePrefix = "aegis-warrant"

// QuoteTTL is how long a cached quote counts as fresh
const QuoteTTL = 30 * time.Second

// Stream is the push-quote feed
type Stream interface {
	contracts.QuoteSource
	OnQuote(fn func(contracts.Quote))
	OnError(fn func(error))
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Deps are the engine's external resources. Optional members may be nil.
type Deps struct {
	Config   *config.Config
	Strategy *strategyconfig.Config
	Clock    clock.Clock
	Logger   *logger.Logger
	Metrics  *metrics.Metrics

	DB    *database.DB  // order + transition journals
	Redis *redis.Client // lifecycle state, holiday cache

	// overrides (tests)
	Broker   broker.Broker
	Stream   Stream
	Holidays calendar.HolidaySource
}

// Engine owns every long-lived component
// ⭐ SSOT: 엔진 조립/기동/종료 순서는 여기서만
type Engine struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
	db      *database.DB

	strategy atomic.Pointer[strategyconfig.Config]

	limiter  *ratelimit.Limiter
	orders   broker.Broker
	paper    *broker.MockBroker // nil unless paper trading
	stream   Stream             // nil without a quote feed
	calendar *calendar.Calendar
	holidays *calendar.Refresher

	lifecycle  *lifecycle.Manager
	quotes     *marketdata.QuoteCache
	poller     *marketdata.Poller
	account    *account.Cache
	ledger     *risk.DailyLedger
	seats      *seat.Allocator
	tracker    *execution.OrderTracker
	cooldowns  *cooldown.Tracker
	monitor    *execution.OrderMonitor
	dispatcher *execution.Dispatcher
	buyQ       *taskqueue.Queue[execution.Signal]
	sellQ      *taskqueue.Queue[execution.Signal]
	buyProc    *taskqueue.Processor[execution.Signal]
	sellProc   *taskqueue.Processor[execution.Signal]
	scheduler  *scheduler.Scheduler

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopOnce sync.Once
}

// New builds the engine without starting anything
func New(d Deps) (*Engine, error) {
	if d.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if d.Strategy == nil {
		return nil, errors.New("engine: strategy is required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	cfg := d.Config

	e := &Engine{
		cfg:     cfg,
		clock:   d.Clock,
		logger:  d.Logger.WithComponent("engine"),
		metrics: d.Metrics,
		db:      d.DB,
	}
	e.strategy.Store(d.Strategy)

	e.limiter = ratelimit.New(ratelimit.Config{
		MaxCalls:     cfg.Engine.RateLimitMaxCalls,
		Window:       cfg.Engine.RateLimitWindow,
		MinInterval:  cfg.Engine.RateLimitMinInterval,
		SafetyBuffer: cfg.Engine.RateLimitSafetyBuffer,
	}, d.Clock, d.Logger, d.Metrics)

	snapshots, err := e.buildBroker(d)
	if err != nil {
		return nil, err
	}

	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return nil, fmt.Errorf("engine: calendar: %w", err)
	}
	e.calendar = cal

	var cache *redis.Cache
	if d.Redis != nil && d.Redis.Enabled() {
		cache = redis.NewCache(d.Redis, CachePrefix)
	}
	holidaySource := d.Holidays
	if holidaySource == nil {
		holidaySource = hkex.NewClient(httputil.New(d.Logger, cfg.Broker.Timeout), d.Logger, cfg.Calendar.HolidayURL)
	}
	e.holidays = calendar.NewRefresher(cal, holidaySource, cache, d.Logger)

	// Lifecycle first: it is the trading gate for everything below
	opts := []lifecycle.Option{lifecycle.WithMetrics(d.Metrics)}
	if cache != nil {
		opts = append(opts, lifecycle.WithStore(lifecycle.NewRedisStore(cache, cfg.Broker.AccountNo)))
	} else {
		opts = append(opts, lifecycle.WithStore(lifecycle.NewMemoryStore()))
	}
	pool := poolOf(d.DB)
	if pool != nil {
		opts = append(opts, lifecycle.WithJournal(lifecycle.NewJournal(pool)))
	}
	e.lifecycle = lifecycle.NewManager(lifecycle.Config{RetryDelay: cfg.Engine.LifecycleRetryDelay}, d.Clock, d.Logger, opts...)
	e.lifecycle.OnTransition(e.onTransition)

	// Cache domains
	e.seats = seat.NewAllocator(func() []strategyconfig.Seat { return e.Strategy().Watchlist }, d.Clock, d.Logger)
	var source contracts.QuoteSource
	if e.stream != nil {
		source = e.stream
	}
	e.quotes = marketdata.NewQuoteCache(source, snapshots, e.seats.ActiveSymbols, QuoteTTL, d.Clock, d.Logger)
	e.account = account.NewCache(e.orders, d.Clock, d.Logger, d.Metrics)
	e.ledger = risk.NewDailyLedger(limitsOf(d.Strategy), e.orders, d.Logger)
	e.tracker = execution.NewOrderTracker(e.orders, nil, d.Logger)
	e.cooldowns = cooldown.NewTracker(d.Clock)

	// Execution
	deps := execution.Deps{
		Broker:    e.orders,
		Gate:      e.lifecycle,
		Cooldowns: e.cooldowns,
		Risk:      e.ledger,
		Account:   e.account,
		Seats:     e.seats,
		Tracker:   e.tracker,
		Strategy:  e.Strategy,
		DayKey:    func() string { return e.lifecycle.State().CurrentDayKey },
		Clock:     d.Clock,
		Logger:    d.Logger,
	}
	if pool != nil {
		deps.Journal = execution.NewRepository(pool)
	}
	e.monitor = execution.NewOrderMonitor(deps, d.Metrics)
	executor := execution.NewExecutor(deps, execution.ExecutorConfig{
		RefreshWait:  cfg.Engine.RefreshWaitTimeout,
		BuyCooldown:  cfg.Engine.BuyCooldown,
		SellCooldown: cfg.Engine.SellCooldown,
	})
	e.buyQ = taskqueue.New[execution.Signal]("buy", d.Clock, d.Metrics)
	e.sellQ = taskqueue.New[execution.Signal]("sell", d.Clock, d.Metrics)
	e.buyProc = taskqueue.NewProcessor(e.buyQ, executor.ProcessBuy, d.Logger, d.Metrics)
	e.sellProc = taskqueue.NewProcessor(e.sellQ, executor.ProcessSell, d.Logger, d.Metrics)
	e.dispatcher = execution.NewDispatcher(deps, e.account, e.buyQ, e.sellQ, e.monitor, e.quotes.All)

	// Quote flow: stream → cache → (paper fills) → dispatcher
	if e.paper != nil {
		e.quotes.OnQuote(e.paper.SetQuote)
	}
	e.quotes.OnQuote(e.dispatcher.OnQuote)
	e.seats.OnRetire(func(symbol, reason string) { e.dispatcher.DropSymbol(symbol, reason) })
	if e.stream != nil {
		e.stream.OnQuote(func(q contracts.Quote) { e.quotes.Update(q) })
		e.stream.OnError(func(err error) {
			e.logger.WithError(err).Warn("Quote stream error")
		})
	}
	e.poller = marketdata.NewPoller(marketdata.PollerConfig{PerSecond: cfg.Engine.QuotePollRate}, e.quotes, e.shouldPoll, d.Logger)

	// Midnight clears in this order; open rebuild runs it in reverse
	for _, domain := range []lifecycle.CacheDomain{e.quotes, e.account, e.ledger, e.seats, e.tracker} {
		if err := e.lifecycle.Register(domain); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e.scheduler = scheduler.New(scheduler.DefaultConfig(), d.Clock, d.Logger)
	for _, job := range []scheduler.Job{
		jobs.NewCooldownSweepJob(e.cooldowns, e.longestCooldown, d.Logger.WithComponent("job")),
		jobs.NewHolidayRefreshJob(e.holidays, d.Clock, cal.Location(), d.Logger.WithComponent("job")),
		jobs.NewAccountRefreshJob(e.account, e.lifecycle, d.Logger.WithComponent("job")),
	} {
		if err := e.scheduler.AddJob(job); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	return e, nil
}

// buildBroker picks the order broker and the quote sources.
// Paper mode routes orders to a MockBroker but keeps live market data when credentials exist.
func (e *Engine) buildBroker(d Deps) (marketdata.SnapshotSource, error) {
	cfg := d.Config
	if d.Broker != nil {
		e.orders = d.Broker
		if d.Stream != nil {
			e.stream = d.Stream
		}
		return d.Broker, nil
	}

	var live *broker.HTTPBroker
	if cfg.Broker.AppKey != "" {
		live = broker.NewHTTPBroker(cfg.Broker, e.limiter, d.Logger)
	}

	var snapshots marketdata.SnapshotSource
	if cfg.Broker.Paper {
		e.paper = broker.NewMockBroker(decimal.NewFromInt(int64(cfg.Broker.PaperCash)), d.Clock)
		e.orders = broker.Throttled(e.paper, e.limiter)
		snapshots = e.orders
		if live != nil {
			snapshots = live
		}
	} else {
		if live == nil {
			return nil, errors.New("engine: live trading needs broker credentials")
		}
		e.orders = live
		snapshots = live
	}

	switch {
	case d.Stream != nil:
		e.stream = d.Stream
	case live != nil && cfg.Broker.QuoteWSURL != "":
		e.stream = broker.NewQuoteStream(cfg.Broker.QuoteWSURL, cfg.Broker.AccessToken, e.limiter, d.Logger)
	}
	return snapshots, nil
}

// Start restores lifecycle state, starts workers and runs the control loop until Stop
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	if e.db != nil {
		schema := append(append([]string{}, lifecycle.JournalSchema...), execution.RepositorySchema...)
		if err := e.db.EnsureSchema(ctx, schema...); err != nil {
			e.abortStart()
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	if hash, err := strategyconfig.Hash(e.Strategy()); err == nil {
		e.logger.WithFields(map[string]interface{}{
			"strategy_id": e.Strategy().Meta.StrategyID,
			"config_hash": hash,
			"paper":       e.paper != nil,
		}).Info("Starting engine")
	}

	now := e.clock.Now()
	if _, err := e.holidays.Refresh(ctx, now.In(e.calendar.Location()).Year()); err != nil {
		e.logger.WithError(err).Warn("Holiday calendar unavailable, using static holidays")
	}

	e.account.Refresher().Start(runCtx)
	e.monitor.Worker().Start(runCtx)
	if err := e.buyProc.Start(runCtx); err != nil {
		e.abortStart()
		return fmt.Errorf("start buy processor: %w", err)
	}
	if err := e.sellProc.Start(runCtx); err != nil {
		e.buyProc.Stop()
		e.abortStart()
		return fmt.Errorf("start sell processor: %w", err)
	}

	if e.stream != nil {
		if err := e.stream.Connect(runCtx); err != nil {
			e.logger.WithError(err).Warn("Quote stream connect failed, polling snapshots")
		}
	}

	facts := e.calendar.Facts(e.clock.Now())
	restored, err := e.lifecycle.Restore(ctx, facts)
	if err != nil {
		e.logger.WithError(err).Warn("Lifecycle state not restored, starting fresh")
	}
	if restored && e.lifecycle.Resume(ctx, facts) {
		e.logger.WithField("day_key", facts.DayKey).Info("Resumed restored trading day")
	}

	e.poller.Start(runCtx)
	e.scheduler.Start(runCtx)

	done := make(chan struct{})
	e.mu.Lock()
	e.loopDone = done
	e.mu.Unlock()
	go e.controlLoop(runCtx, done)
	return nil
}

// abortStart undoes a failed Start so it can be retried
func (e *Engine) abortStart() {
	e.monitor.Worker().Stop()
	e.account.Refresher().Stop()

	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.started = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// controlLoop ticks the lifecycle on the configured interval
func (e *Engine) controlLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Engine.ControlTick)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one control-loop iteration
func (e *Engine) Tick(ctx context.Context) {
	e.lifecycle.Tick(ctx, e.calendar.Facts(e.clock.Now()))
}

// Stop shuts down in dependency order: quote intake, workers, processors
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel, loopDone := e.cancel, e.loopDone
		e.mu.Unlock()

		e.logger.Info("Stopping engine")
		e.scheduler.Stop()
		e.poller.Stop()
		if e.stream != nil {
			if err := e.stream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close quote stream: %w", err))
			}
		}

		if err := e.monitor.Worker().StopAndDrain(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := e.account.Refresher().StopAndDrain(ctx); err != nil {
			errs = append(errs, err)
		}
		e.buyProc.Stop()
		e.sellProc.Stop()

		if cancel != nil {
			cancel()
		}
		if loopDone != nil {
			<-loopDone
		}
		e.logger.Info("Engine stopped")
	})
	return errors.Join(errs...)
}

// Strategy returns the active strategy
func (e *Engine) Strategy() *strategyconfig.Config {
	return e.strategy.Load()
}

// SetStrategy swaps the strategy; the watchlist takes effect at the next open rebuild
func (e *Engine) SetStrategy(cfg *strategyconfig.Config) {
	e.strategy.Store(cfg)
	e.ledger.SetLimits(limitsOf(cfg))
	e.logger.WithField("strategy_id", cfg.Meta.StrategyID).Info("Strategy replaced")
}

// Liquidate queues an unconditional sell of symbol at its cached quote
func (e *Engine) Liquidate(symbol, reason string) error {
	q, _ := e.quotes.Get(symbol)
	if !q.Valid() {
		return fmt.Errorf("no quote for %s", symbol)
	}
	e.dispatcher.Liquidate(q, reason)
	return nil
}

// RetireSeat retires the symbol's seat and assigns the next candidate
func (e *Engine) RetireSeat(symbol, reason string) (string, error) {
	return e.seats.Retire(symbol, reason)
}

func (e *Engine) onTransition(t lifecycle.Transition) {
	if t.To == lifecycle.StateMidnightCleaned {
		e.cooldowns.Reset()
	}
}

// shouldPoll polls snapshots while trading and the stream is not delivering
func (e *Engine) shouldPoll() bool {
	if !e.lifecycle.IsTradingEnabled() {
		return false
	}
	return e.stream == nil || !e.stream.IsConnected()
}

func (e *Engine) longestCooldown() time.Duration {
	longest := e.cfg.Engine.BuyCooldown
	if e.cfg.Engine.SellCooldown > longest {
		longest = e.cfg.Engine.SellCooldown
	}
	if s := e.Strategy(); s != nil {
		if s.Cooldowns.Buy > longest {
			longest = s.Cooldowns.Buy
		}
		if s.Cooldowns.Sell > longest {
			longest = s.Cooldowns.Sell
		}
	}
	return longest
}

// ============================================================
// Status (read by the API)
// ============================================================

// Lifecycle exposes the day lifecycle manager
func (e *Engine) Lifecycle() *lifecycle.Manager {
	return e.lifecycle
}

// QueueStats reports both task processors
func (e *Engine) QueueStats() []taskqueue.ProcessorStats {
	return []taskqueue.ProcessorStats{e.buyProc.Stats(), e.sellProc.Stats()}
}

// WorkerStats reports the single-flight workers
func (e *Engine) WorkerStats() []flight.Stats {
	return []flight.Stats{e.monitor.Worker().Stats(), e.account.Refresher().Stats()}
}

// RefreshStatus reports the account refresh gate
func (e *Engine) RefreshStatus() refresh.Status {
	return e.account.Gate().Status()
}

// RateLimit reports the broker quota usage
func (e *Engine) RateLimit(ctx context.Context) (ratelimit.Stats, error) {
	return e.limiter.Stats(ctx)
}

// Jobs reports the scheduled jobs
func (e *Engine) Jobs() map[string]scheduler.JobStats {
	return e.scheduler.GetJobStats()
}

// Seats reports the current seat assignments
func (e *Engine) Seats() []seat.Assignment {
	return e.seats.Assignments()
}

// Risk reports today's ledger
func (e *Engine) Risk() risk.Summary {
	return e.ledger.Summary()
}

// Quotes returns the latest cached quotes
func (e *Engine) Quotes() map[string]contracts.Quote {
	return e.quotes.All()
}

// Orders returns open orders, oldest first
func (e *Engine) Orders() []contracts.Order {
	return e.tracker.Open()
}

// Metrics returns the collector set (nil when disabled)
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Paper returns the paper broker (nil when trading live)
func (e *Engine) Paper() *broker.MockBroker {
	return e.paper
}

func limitsOf(s *strategyconfig.Config) risk.Limits {
	return risk.Limits{
		MaxDailyNotional: s.Risk.MaxDailyNotionalDec(),
		DailyLossLimit:   s.Risk.DailyLossLimitDec(),
		MaxBuysPerSymbol: s.Risk.MaxBuysPerSymbol,
	}
}

func poolOf(db *database.DB) *pgxpool.Pool {
	if db == nil {
		return nil
	}
	return db.Pool
}
