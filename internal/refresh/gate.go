package refresh

import (
	"context"
	"sync"

	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// Gate is a version-counter barrier in front of a shared cache.
// Writers call MarkStale the instant a mutating event happens and MarkFresh
// with that version once the cache has been refreshed; readers WaitForFresh.
// ⭐ SSOT: 캐시 신선도 대기는 이 게이트에서만
type Gate struct {
	name    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	current uint64
	stale   uint64
	// closed (and replaced) whenever current catches up with stale
	ready chan struct{}
}

// Status is a diagnostic snapshot of both counters
type Status struct {
	Name           string `json:"name"`
	CurrentVersion uint64 `json:"current_version"`
	StaleVersion   uint64 `json:"stale_version"`
	Fresh          bool   `json:"fresh"`
}

// NewGate creates a fresh gate (both counters zero)
func NewGate(name string, m *metrics.Metrics) *Gate {
	return &Gate{
		name:    name,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

// MarkStale increments and returns the required version
func (g *Gate) MarkStale() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stale++
	g.metrics.SetRefreshVersions(g.current, g.stale)
	return g.stale
}

// MarkFresh records version as refreshed and releases waiters when caught up.
// current never decreases.
func (g *Gate) MarkFresh(version uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if version > g.current {
		g.current = version
	}
	g.metrics.SetRefreshVersions(g.current, g.stale)

	if g.current >= g.stale {
		close(g.ready)
		g.ready = make(chan struct{})
	}
}

// WaitForFresh returns immediately when current >= stale, otherwise blocks
// until a MarkFresh satisfies the condition or ctx ends.
func (g *Gate) WaitForFresh(ctx context.Context) error {
	g.mu.Lock()
	if g.current >= g.stale {
		g.mu.Unlock()
		return nil
	}
	ready := g.ready
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsFresh reports whether current >= stale right now
func (g *Gate) IsFresh() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current >= g.stale
}

// Status returns both counters
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Name:           g.name,
		CurrentVersion: g.current,
		StaleVersion:   g.stale,
		Fresh:          g.current >= g.stale,
	}
}
