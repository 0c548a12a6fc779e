// Package seat assigns one active warrant to every (underlying, direction)
// seat of the watchlist.
package seat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// DomainName is the lifecycle registration name
const DomainName = "seat"

// Assignment is the warrant currently trading in a seat
type Assignment struct {
	Key        string                   `json:"key"`
	Underlying string                   `json:"underlying"`
	Direction  strategyconfig.Direction `json:"direction"`
	Symbol     string                   `json:"symbol"`
	Candidate  int                      `json:"candidate"` // index into the seat's warrant list
	AssignedAt time.Time                `json:"assigned_at"`
}

// RetireFunc is called for every symbol leaving a seat
type RetireFunc func(symbol, reason string)

// WatchlistFunc returns the current watchlist
type WatchlistFunc func() []strategyconfig.Seat

// Allocator owns the seat → warrant mapping
// ⭐ SSOT: 좌석(기초자산/방향)별 활성 워런트 배정은 여기서만
type Allocator struct {
	watchlist WatchlistFunc
	clock     clock.Clock
	logger    *logger.Logger

	mu       sync.RWMutex
	seats    map[string]*Assignment // by seat key
	bySymbol map[string]string      // symbol → seat key
	retired  map[string]bool        // symbols retired today

	hookMu sync.RWMutex
	hooks  []RetireFunc
}

// NewAllocator creates an empty allocator
func NewAllocator(watchlist WatchlistFunc, clk clock.Clock, log *logger.Logger) *Allocator {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Allocator{
		watchlist: watchlist,
		clock:     clk,
		logger:    log.WithComponent(DomainName),
		seats:     make(map[string]*Assignment),
		bySymbol:  make(map[string]string),
		retired:   make(map[string]bool),
	}
}

// OnRetire registers a hook (e.g. drop queued tasks of the symbol)
func (a *Allocator) OnRetire(fn RetireFunc) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.hooks = append(a.hooks, fn)
}

func (a *Allocator) notify(symbols []string, reason string) {
	a.hookMu.RLock()
	hooks := append([]RetireFunc{}, a.hooks...)
	a.hookMu.RUnlock()

	for _, s := range symbols {
		for _, fn := range hooks {
			fn(s, reason)
		}
	}
}

// Assign fills every empty seat with its first non-retired candidate
func (a *Allocator) Assign() int {
	if a.watchlist == nil {
		return 0
	}
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	assigned := 0
	for _, s := range a.watchlist() {
		key := s.Key()
		if _, ok := a.seats[key]; ok {
			continue
		}
		for i, w := range s.Warrants {
			if a.retired[w] {
				continue
			}
			if _, taken := a.bySymbol[w]; taken {
				continue
			}
			a.seats[key] = &Assignment{
				Key:        key,
				Underlying: s.Underlying,
				Direction:  s.Direction,
				Symbol:     w,
				Candidate:  i,
				AssignedAt: now,
			}
			a.bySymbol[w] = key
			assigned++
			break
		}
	}
	return assigned
}

// Retire removes symbol from its seat for the rest of the day and moves the
// seat to its next candidate. Returns the replacement symbol, if any.
func (a *Allocator) Retire(symbol, reason string) (string, error) {
	a.mu.Lock()
	key, ok := a.bySymbol[symbol]
	if !ok {
		a.mu.Unlock()
		return "", fmt.Errorf("symbol %s holds no seat", symbol)
	}
	delete(a.bySymbol, symbol)
	delete(a.seats, key)
	a.retired[symbol] = true
	a.mu.Unlock()

	a.notify([]string{symbol}, reason)
	a.Assign()

	next, _ := a.Seat(key)
	a.logger.WithFields(map[string]interface{}{
		"seat":        key,
		"symbol":      symbol,
		"replacement": next.Symbol,
		"reason":      reason,
	}).Info("Seat retired")
	return next.Symbol, nil
}

// Seat returns the assignment of a seat key
func (a *Allocator) Seat(key string) (Assignment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.seats[key]
	if !ok {
		return Assignment{}, false
	}
	return *s, true
}

// SeatOf returns the assignment holding symbol
func (a *Allocator) SeatOf(symbol string) (Assignment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key, ok := a.bySymbol[symbol]
	if !ok {
		return Assignment{}, false
	}
	return *a.seats[key], true
}

// IsActive reports whether symbol currently holds a seat
func (a *Allocator) IsActive(symbol string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.bySymbol[symbol]
	return ok
}

// ActiveSymbols returns every seated symbol, sorted
func (a *Allocator) ActiveSymbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.bySymbol))
	for s := range a.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Assignments returns every seat, sorted by key
func (a *Allocator) Assignments() []Assignment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Assignment, 0, len(a.seats))
	for _, s := range a.seats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (a *Allocator) Name() string { return DomainName }

// MidnightClear releases every seat and forgets today's retirements
func (a *Allocator) MidnightClear(ctx context.Context, lc lifecycle.Context) error {
	a.mu.Lock()
	released := make([]string, 0, len(a.bySymbol))
	for s := range a.bySymbol {
		released = append(released, s)
	}
	sort.Strings(released)
	a.seats = make(map[string]*Assignment)
	a.bySymbol = make(map[string]string)
	a.retired = make(map[string]bool)
	a.mu.Unlock()

	a.notify(released, "midnight")
	a.logger.WithFields(map[string]interface{}{
		"day_key":  lc.DayKey,
		"released": len(released),
	}).Info("Seats released")
	return nil
}

// OpenRebuild assigns seats from the current watchlist
func (a *Allocator) OpenRebuild(ctx context.Context, lc lifecycle.Context) error {
	n := a.Assign()
	a.logger.WithFields(map[string]interface{}{
		"day_key":  lc.DayKey,
		"assigned": n,
		"active":   len(a.ActiveSymbols()),
	}).Info("Seats assigned")
	return nil
}
