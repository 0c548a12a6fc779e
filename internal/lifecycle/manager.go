// Package lifecycle drives the cross-day cache lifecycle: midnight clear of
// every registered domain in registration order, then open rebuild in the
// reverse order, with wholesale retry on failure. Trading stays disabled from
// the first midnight attempt until the last successful rebuild.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// ErrDomainRegistration rejects duplicate or late domain registration
var ErrDomainRegistration = errors.New("domain registration rejected")

// Store persists MutableState across restarts
type Store interface {
	Load(ctx context.Context) (MutableState, bool, error)
	Save(ctx context.Context, st MutableState) error
}

// Journaler appends transitions to durable storage
type Journaler interface {
	Append(ctx context.Context, t Transition) error
}

// Config controls retry pacing
type Config struct {
	RetryDelay  time.Duration
	HistorySize int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		RetryDelay:  5 * time.Second,
		HistorySize: 64,
	}
}

// Manager is the day lifecycle state machine
// ⭐ SSOT: 자정 정리/개장 재구축 상태 전이는 여기서만
type Manager struct {
	cfg     Config
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
	store   Store
	journal Journaler

	tickMu sync.Mutex // one tick at a time

	mu            sync.RWMutex
	state         MutableState
	domains       []CacheDomain
	started       bool
	nextAttemptAt time.Time
	attempt       int
	listeners     []TransitionFunc
	history       []Transition
}

// Option configures a Manager
type Option func(*Manager)

// WithStore enables state persistence
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithJournal enables the transition journal
func WithJournal(j Journaler) Option {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics publishes state gauges
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager starts in ACTIVE with no day key and trading disabled,
// so the first tick always performs a full midnight + open cycle.
func NewManager(cfg Config, clk clock.Clock, log *logger.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}

	m := &Manager{
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("lifecycle"),
		state: MutableState{
			LifecycleState: StateActive,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.publish(m.state)
	return m
}

// Register adds a domain. Only allowed before the first tick; names are unique.
func (m *Manager) Register(d CacheDomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("%w: %s registered after start", ErrDomainRegistration, d.Name())
	}
	for _, existing := range m.domains {
		if existing.Name() == d.Name() {
			return fmt.Errorf("%w: duplicate domain %s", ErrDomainRegistration, d.Name())
		}
	}
	m.domains = append(m.domains, d)
	return nil
}

// Domains returns registered domain names in registration order
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.domains))
	for i, d := range m.domains {
		names[i] = d.Name()
	}
	return names
}

// OnTransition registers a listener. Not safe to call once ticking.
func (m *Manager) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns a copy of the current state
func (m *Manager) State() MutableState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsTradingEnabled must be checked before every order submission
func (m *Manager) IsTradingEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsTradingEnabled
}

// NextAttemptAt is the earliest time a failed pass is retried (zero when none pending)
func (m *Manager) NextAttemptAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextAttemptAt
}

// History returns recorded transitions, oldest first
func (m *Manager) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Restore loads persisted state before the first tick.
// Trading is always off afterwards; only Resume or an open rebuild turns it back on.
// An interrupted open rebuild resumes as OPEN_REBUILD_FAILED.
func (m *Manager) Restore(ctx context.Context, facts TradingDayFacts) (bool, error) {
	if m.store == nil {
		return false, nil
	}

	st, ok, err := m.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load lifecycle state: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !st.LifecycleState.Valid() {
		return false, fmt.Errorf("restored unknown lifecycle state %q", st.LifecycleState)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return false, fmt.Errorf("restore after first tick")
	}

	if st.LifecycleState == StateOpenRebuilding {
		st.LifecycleState = StateOpenRebuildFailed
	}
	st.IsTradingEnabled = false
	m.state = st
	m.mu.Unlock()

	m.publish(st)
	m.logger.WithFields(map[string]interface{}{
		"state":           st.LifecycleState,
		"day_key":         st.CurrentDayKey,
		"trading_enabled": st.IsTradingEnabled,
	}).Info("Lifecycle state restored")
	return true, nil
}

// Resume handles a restart inside a restored ACTIVE day. The domains' caches
// live in process and are empty, so the day drops back to MIDNIGHT_CLEANED
// with trading off and is rebuilt now when the market is open, otherwise by
// the first tick inside a session. Returns false when nothing needed resuming.
func (m *Manager) Resume(ctx context.Context, facts TradingDayFacts) bool {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	st := m.state
	if st.LifecycleState != StateActive || st.CurrentDayKey == "" || st.CurrentDayKey != facts.DayKey {
		m.mu.Unlock()
		return false
	}
	m.started = true
	m.mu.Unlock()

	now := m.clock.Now()
	m.transition(ctx, now, StateMidnightCleaned, "", nil, func(s *MutableState) {
		s.IsTradingEnabled = false
		s.PendingOpenRebuild = true
	})
	if facts.CanTradeNow {
		m.runOpen(ctx, now, facts)
	}
	return true
}

// Tick is the only entry point that advances the state machine.
// Overlapping calls are skipped rather than queued.
func (m *Manager) Tick(ctx context.Context, facts TradingDayFacts) {
	if !m.tickMu.TryLock() {
		return
	}
	defer m.tickMu.Unlock()

	if facts.DayKey == "" {
		m.logger.Warn("Tick without a day key ignored")
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	m.started = true
	if !m.nextAttemptAt.IsZero() && now.Before(m.nextAttemptAt) {
		m.mu.Unlock()
		return
	}
	st := m.state
	m.mu.Unlock()

	newDay := facts.DayKey != st.CurrentDayKey

	switch st.LifecycleState {
	case StateActive:
		if newDay {
			m.runMidnight(ctx, now, facts)
		}
	case StateMidnightCleaning:
		m.runMidnight(ctx, now, facts)
	case StateMidnightCleaned, StateOpenRebuildFailed, StateOpenRebuilding:
		if newDay {
			// another day started before the previous one ever opened
			m.runMidnight(ctx, now, facts)
			return
		}
		if facts.CanTradeNow {
			m.runOpen(ctx, now, facts)
		}
	}
}

func (m *Manager) runMidnight(ctx context.Context, now time.Time, facts TradingDayFacts) {
	prev := m.State()

	attempt := m.beginPass(prev.LifecycleState == StateMidnightCleaning)
	m.transition(ctx, now, StateMidnightCleaning, "", nil, func(s *MutableState) {
		s.IsTradingEnabled = false
		s.TargetTradingDayKey = facts.DayKey
	})

	lc := Context{
		Now:      now,
		DayKey:   facts.DayKey,
		Facts:    facts,
		State:    StateMidnightCleaning,
		Attempt:  attempt,
		Previous: prev.CurrentDayKey,
	}

	domains := m.snapshotDomains()
	for _, d := range domains {
		if err := callDomain(ctx, d, lc, CacheDomain.MidnightClear); err != nil {
			m.fail(ctx, now, StateMidnightCleaning, d.Name(), err)
			return
		}
	}

	m.transition(ctx, now, StateMidnightCleaned, "", nil, func(s *MutableState) {
		s.CurrentDayKey = facts.DayKey
		s.PendingOpenRebuild = true
	})
	m.logger.WithFields(map[string]interface{}{
		"day_key": facts.DayKey,
		"domains": len(domains),
		"attempt": attempt,
	}).Info("Midnight clear completed")
}

func (m *Manager) runOpen(ctx context.Context, now time.Time, facts TradingDayFacts) {
	prev := m.State()

	attempt := m.beginPass(prev.LifecycleState != StateMidnightCleaned)
	m.transition(ctx, now, StateOpenRebuilding, "", nil, nil)

	lc := Context{
		Now:      now,
		DayKey:   prev.CurrentDayKey,
		Facts:    facts,
		State:    StateOpenRebuilding,
		Attempt:  attempt,
		Previous: prev.CurrentDayKey,
	}

	domains := m.snapshotDomains()
	for i := len(domains) - 1; i >= 0; i-- {
		d := domains[i]
		if err := callDomain(ctx, d, lc, CacheDomain.OpenRebuild); err != nil {
			m.fail(ctx, now, StateOpenRebuildFailed, d.Name(), err)
			return
		}
	}

	m.transition(ctx, now, StateActive, "", nil, func(s *MutableState) {
		s.PendingOpenRebuild = false
		s.IsTradingEnabled = true
		s.TargetTradingDayKey = ""
	})
	m.logger.WithFields(map[string]interface{}{
		"day_key": prev.CurrentDayKey,
		"attempt": attempt,
	}).Info("Open rebuild completed, trading enabled")
}

// beginPass clears the retry gate and returns the attempt number of this pass
func (m *Manager) beginPass(retry bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAttemptAt = time.Time{}
	if retry {
		m.attempt++
	} else {
		m.attempt = 1
	}
	return m.attempt
}

func (m *Manager) fail(ctx context.Context, now time.Time, to State, domain string, err error) {
	m.mu.Lock()
	m.nextAttemptAt = now.Add(m.cfg.RetryDelay)
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.WithError(err).WithFields(map[string]interface{}{
		"state":    to,
		"domain":   domain,
		"attempt":  attempt,
		"retry_in": m.cfg.RetryDelay.String(),
	}).Error("Lifecycle pass failed")

	m.transition(ctx, now, to, domain, err, nil)
}

// transition applies mutate, records history and notifies listeners.
// Staying in the same state without an error records nothing.
func (m *Manager) transition(ctx context.Context, now time.Time, to State, domain string, cause error, mutate func(*MutableState)) {
	m.mu.Lock()
	from := m.state.LifecycleState
	m.state.LifecycleState = to
	if mutate != nil {
		mutate(&m.state)
	}
	m.state.UpdatedAt = now
	st := m.state

	record := from != to || cause != nil
	var t Transition
	var listeners []TransitionFunc
	if record {
		t = Transition{
			From:    from,
			To:      to,
			DayKey:  st.TargetTradingDayKey,
			At:      now,
			Domain:  domain,
			Trading: st.IsTradingEnabled,
		}
		if t.DayKey == "" {
			t.DayKey = st.CurrentDayKey
		}
		if cause != nil {
			t.Error = cause.Error()
		}
		m.history = append(m.history, t)
		if over := len(m.history) - m.cfg.HistorySize; over > 0 {
			m.history = append(m.history[:0], m.history[over:]...)
		}
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	m.publish(st)
	m.persist(ctx, st)

	if !record {
		return
	}
	if m.journal != nil {
		if err := m.journal.Append(ctx, t); err != nil {
			m.logger.WithError(err).Warn("Failed to journal lifecycle transition")
		}
	}
	for _, fn := range listeners {
		fn(t)
	}
}

func (m *Manager) persist(ctx context.Context, st MutableState) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, st); err != nil {
		m.logger.WithError(err).Warn("Failed to persist lifecycle state")
	}
}

func (m *Manager) publish(st MutableState) {
	m.metrics.SetLifecycleState(string(st.LifecycleState), AllStates())
	m.metrics.SetTradingEnabled(st.IsTradingEnabled)
}

func (m *Manager) snapshotDomains() []CacheDomain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CacheDomain, len(m.domains))
	copy(out, m.domains)
	return out
}

// callDomain runs one callback, turning a panic into an error
func callDomain(ctx context.Context, d CacheDomain, lc Context, fn func(CacheDomain, context.Context, Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("domain %s panicked: %v", d.Name(), r)
		}
	}()
	if err := fn(d, ctx, lc); err != nil {
		return fmt.Errorf("domain %s: %w", d.Name(), err)
	}
	return nil
}
