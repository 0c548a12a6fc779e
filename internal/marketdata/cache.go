// Package marketdata keeps the latest quote per monitored warrant and the
// stream subscriptions that feed it.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// DomainName is the lifecycle registration name
const DomainName = "marketdata"

// SnapshotSource fetches quotes on demand (broker REST)
type SnapshotSource interface {
	QuoteSnapshot(ctx context.Context, symbols []string) ([]contracts.Quote, error)
}

// SymbolsFunc returns the symbols that should be subscribed today
type SymbolsFunc func() []string

// QuoteCache is the day-scoped quote store
// ⭐ SSOT: 실시간 시세 캐싱은 이 구조체에서만
type QuoteCache struct {
	clock    clock.Clock
	logger   *logger.Logger
	ttl      time.Duration
	stream   contracts.QuoteSource // nil in paper mode
	snapshot SnapshotSource
	symbols  SymbolsFunc

	mu         sync.RWMutex
	quotes     map[string]contracts.Quote
	subscribed map[string]bool

	listenerMu sync.RWMutex
	listeners  []func(contracts.Quote)
}

// NewQuoteCache creates an empty cache. stream may be nil.
func NewQuoteCache(stream contracts.QuoteSource, snapshot SnapshotSource, symbols SymbolsFunc, ttl time.Duration, clk clock.Clock, log *logger.Logger) *QuoteCache {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &QuoteCache{
		clock:      clk,
		logger:     log.WithComponent(DomainName),
		ttl:        ttl,
		stream:     stream,
		snapshot:   snapshot,
		symbols:    symbols,
		quotes:     make(map[string]contracts.Quote),
		subscribed: make(map[string]bool),
	}
}

// OnQuote registers a listener called after every accepted update
func (c *QuoteCache) OnQuote(fn func(contracts.Quote)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Update stores q unless it is invalid, unsubscribed or older than the cached quote
func (c *QuoteCache) Update(q contracts.Quote) bool {
	if !q.Valid() {
		return false
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = c.clock.Now()
	}

	c.mu.Lock()
	if !c.subscribed[q.Symbol] {
		c.mu.Unlock()
		return false
	}
	if existing, ok := c.quotes[q.Symbol]; ok && q.Timestamp.Before(existing.Timestamp) {
		c.mu.Unlock()
		c.logger.WithFields(map[string]interface{}{
			"symbol":   q.Symbol,
			"new_time": q.Timestamp,
			"old_time": existing.Timestamp,
		}).Debug("Rejected older quote")
		return false
	}
	c.quotes[q.Symbol] = q
	c.mu.Unlock()

	c.listenerMu.RLock()
	listeners := append([]func(contracts.Quote){}, c.listeners...)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(q)
	}
	return true
}

// Get returns the cached quote and whether it is still within the TTL
func (c *QuoteCache) Get(symbol string) (contracts.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[symbol]
	if !ok {
		return contracts.Quote{}, false
	}
	return q, c.clock.Now().Sub(q.Timestamp) <= c.ttl
}

// All returns a copy of every cached quote
func (c *QuoteCache) All() map[string]contracts.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]contracts.Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// Subscribed returns the subscribed symbols, sorted
func (c *QuoteCache) Subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.subscribed)
}

// Len returns the number of cached quotes
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Subscribe adds symbols to the stream and the accepted set
func (c *QuoteCache) Subscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if c.stream != nil {
		if err := c.stream.Subscribe(ctx, symbols); err != nil {
			return fmt.Errorf("subscribe quotes: %w", err)
		}
	}

	c.mu.Lock()
	for _, s := range symbols {
		c.subscribed[s] = true
	}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops symbols and their cached quotes
func (c *QuoteCache) Unsubscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if c.stream != nil {
		if err := c.stream.Unsubscribe(ctx, symbols); err != nil {
			return fmt.Errorf("unsubscribe quotes: %w", err)
		}
	}

	c.mu.Lock()
	for _, s := range symbols {
		delete(c.subscribed, s)
		delete(c.quotes, s)
	}
	c.mu.Unlock()
	return nil
}

// Prime fetches snapshots for every subscribed symbol
func (c *QuoteCache) Prime(ctx context.Context) (int, error) {
	if c.snapshot == nil {
		return 0, nil
	}
	symbols := c.Subscribed()
	if len(symbols) == 0 {
		return 0, nil
	}

	quotes, err := c.snapshot.QuoteSnapshot(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("prime quotes: %w", err)
	}
	accepted := 0
	for _, q := range quotes {
		if c.Update(q) {
			accepted++
		}
	}
	return accepted, nil
}

func (c *QuoteCache) Name() string { return DomainName }

// MidnightClear unsubscribes everything and drops all quotes
func (c *QuoteCache) MidnightClear(ctx context.Context, lc lifecycle.Context) error {
	if err := c.Unsubscribe(ctx, c.Subscribed()); err != nil {
		return err
	}

	c.mu.Lock()
	dropped := len(c.quotes)
	c.quotes = make(map[string]contracts.Quote)
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"day_key": lc.DayKey,
		"dropped": dropped,
	}).Info("Quote cache cleared")
	return nil
}

// OpenRebuild subscribes to today's symbols and primes the cache
func (c *QuoteCache) OpenRebuild(ctx context.Context, lc lifecycle.Context) error {
	var want []string
	if c.symbols != nil {
		want = c.symbols()
	}

	c.mu.RLock()
	var add []string
	for _, s := range want {
		if !c.subscribed[s] {
			add = append(add, s)
		}
	}
	c.mu.RUnlock()

	if err := c.Subscribe(ctx, add); err != nil {
		return err
	}
	primed, err := c.Prime(ctx)
	if err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"day_key":    lc.DayKey,
		"subscribed": len(want),
		"primed":     primed,
	}).Info("Quote cache rebuilt")
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
