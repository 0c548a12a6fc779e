package cooldown

import (
	"sync"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
)

// Tracker remembers when a repeatable action last happened per key
// ⭐ SSOT: 매수/매도 쿨다운은 이 트래커에서만
type Tracker struct {
	clock clock.Clock

	mu     sync.Mutex
	events map[string]time.Time
}

// NewTracker creates an empty tracker
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		clock:  clk,
		events: make(map[string]time.Time),
	}
}

// Key builds the composite key symbol+direction
func Key(symbol, direction string) string {
	return symbol + ":" + direction
}

// Record stores at for key, overwriting any prior value.
// Zero or pre-epoch times are ignored.
func (t *Tracker) Record(key string, at time.Time) {
	if key == "" || at.IsZero() || at.UnixMilli() <= 0 {
		return
	}

	t.mu.Lock()
	t.events[key] = at
	t.mu.Unlock()
}

// Remaining returns how long key stays cooling down for duration d.
// Expired or missing entries and non-positive d yield 0; expired entries are evicted.
func (t *Tracker) Remaining(key string, d time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.events[key]
	if !ok {
		return 0
	}
	if d <= 0 {
		delete(t.events, key)
		return 0
	}

	remaining := at.Add(d).Sub(t.clock.Now())
	if remaining <= 0 {
		delete(t.events, key)
		return 0
	}
	return remaining
}

// Active reports whether key is still cooling down
func (t *Tracker) Active(key string, d time.Duration) bool {
	return t.Remaining(key, d) > 0
}

// Sweep evicts every entry older than maxAge and returns how many were removed
func (t *Tracker) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-maxAge)
	removed := 0
	for key, at := range t.events {
		if !at.After(cutoff) {
			delete(t.events, key)
			removed++
		}
	}
	return removed
}

// Reset drops every entry (day rollover)
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.events = make(map[string]time.Time)
	t.mu.Unlock()
}

// Len returns the number of tracked keys
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
