// Package account caches balance and positions behind a refresh gate so
// processors never act on a snapshot older than their last order.
package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/internal/flight"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/internal/refresh"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// DomainName is the lifecycle registration name
const DomainName = "account"

// Source fetches the account from the broker
type Source interface {
	Account(ctx context.Context) (*contracts.Account, error)
}

// Cache holds the latest account snapshot
// ⭐ SSOT: 계좌/보유 캐시는 여기서만 (읽기 전 WaitForFresh)
type Cache struct {
	source Source
	gate   *refresh.Gate
	clock  clock.Clock
	logger *logger.Logger

	refresher *flight.Worker[uint64]

	mu        sync.RWMutex
	account   *contracts.Account
	fetchedAt time.Time
}

// NewCache creates an empty cache with its own gate and refresher worker
func NewCache(source Source, clk clock.Clock, log *logger.Logger, m *metrics.Metrics) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Cache{
		source: source,
		gate:   refresh.NewGate(DomainName, m),
		clock:  clk,
		logger: log.WithComponent(DomainName),
	}
	c.refresher = flight.New("account_refresher", c.refreshVersion, c.onRefreshError, log, m)
	return c
}

// Gate exposes the freshness gate (diagnostics)
func (c *Cache) Gate() *refresh.Gate {
	return c.gate
}

// Refresher is the post-trade refresh worker; the engine starts and drains it
func (c *Cache) Refresher() *flight.Worker[uint64] {
	return c.refresher
}

// RequestRefresh marks the cache stale and schedules a background refresh.
// Call it the instant an order is placed or fills.
func (c *Cache) RequestRefresh() uint64 {
	version := c.gate.MarkStale()
	if !c.refresher.Schedule(version) {
		c.logger.WithField("version", version).Warn("Account refresher not running, refresh dropped")
	}
	return version
}

// Refresh fetches synchronously and marks the gate fresh
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refreshVersion(ctx, c.gate.MarkStale())
}

func (c *Cache) refreshVersion(ctx context.Context, version uint64) error {
	acc, err := c.source.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}

	c.mu.Lock()
	c.account = acc
	c.fetchedAt = c.clock.Now()
	c.mu.Unlock()

	c.gate.MarkFresh(version)
	c.logger.WithFields(map[string]interface{}{
		"version":   version,
		"cash":      acc.Cash.String(),
		"positions": len(acc.Positions),
	}).Debug("Account refreshed")
	return nil
}

func (c *Cache) onRefreshError(version uint64, err error) {
	c.logger.WithError(err).WithField("version", version).Warn("Account refresh failed")
}

// WaitForFresh blocks until every requested refresh has landed
func (c *Cache) WaitForFresh(ctx context.Context) error {
	return c.gate.WaitForFresh(ctx)
}

// Snapshot returns a copy of the cached account
func (c *Cache) Snapshot() (contracts.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.account == nil {
		return contracts.Account{}, false
	}
	cp := *c.account
	cp.Positions = append([]contracts.Position(nil), c.account.Positions...)
	return cp, true
}

// Position returns the cached holding of symbol
func (c *Cache) Position(symbol string) (contracts.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.account == nil {
		return contracts.Position{}, false
	}
	return c.account.Position(symbol)
}

// BuyingPower returns zero until the first refresh
func (c *Cache) BuyingPower() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.account == nil {
		return decimal.Zero
	}
	return c.account.BuyingPower
}

// FetchedAt is the time of the last successful refresh
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *Cache) Name() string { return DomainName }

// MidnightClear drops the snapshot and any queued refresh
func (c *Cache) MidnightClear(ctx context.Context, lc lifecycle.Context) error {
	c.refresher.ClearLatestQueued()

	c.mu.Lock()
	c.account = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()

	c.logger.WithField("day_key", lc.DayKey).Info("Account cache cleared")
	return nil
}

// OpenRebuild loads the account before trading resumes
func (c *Cache) OpenRebuild(ctx context.Context, lc lifecycle.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	c.logger.WithField("day_key", lc.DayKey).Info("Account cache rebuilt")
	return nil
}
