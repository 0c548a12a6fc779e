package marketdata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/aegis-warrant/pkg/logger"
)

// PollerConfig bounds snapshot polling
type PollerConfig struct {
	Interval  time.Duration // time between full sweeps
	BatchSize int           // symbols per snapshot request
	PerSecond int           // snapshot requests per second
}

// DefaultPollerConfig polls every 3s, 20 symbols per request, 2 requests/s
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:  3 * time.Second,
		BatchSize: 20,
		PerSecond: 2,
	}
}

// Poller refreshes the cache from REST snapshots. It backs the stream in
// paper mode and whenever the stream is down.
// ⭐ SSOT: 시세 REST 폴링 예산은 이 폴러에서만
type Poller struct {
	cfg     PollerConfig
	cache   *QuoteCache
	limiter *rate.Limiter
	logger  *logger.Logger

	// active reports whether polling should happen at all (e.g. trading enabled)
	active func() bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPoller creates a poller over cache; active may be nil (always poll)
func NewPoller(cfg PollerConfig, cache *QuoteCache, active func() bool, log *logger.Logger) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = def.PerSecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{
		cfg:     cfg,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.PerSecond),
		logger:  log.WithComponent("quote_poller"),
		active:  active,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the polling loop
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
	p.logger.WithField("interval", p.cfg.Interval).Info("Quote poller started")
}

// Stop ends the loop and waits for it
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.active != nil && !p.active() {
				continue
			}
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Warn("Quote poll failed")
			}
		}
	}
}

// PollOnce sweeps every subscribed symbol in batches and returns accepted updates
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p.cache.snapshot == nil {
		return 0, nil
	}
	symbols := p.cache.Subscribed()
	accepted := 0

	for start := 0; start < len(symbols); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return accepted, err
		}

		quotes, err := p.cache.snapshot.QuoteSnapshot(ctx, symbols[start:end])
		if err != nil {
			return accepted, err
		}
		for _, q := range quotes {
			if p.cache.Update(q) {
				accepted++
			}
		}
	}
	return accepted, nil
}
