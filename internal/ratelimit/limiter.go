package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
)

// Config defines the quota of the remote API
type Config struct {
	MaxCalls     int           // calls allowed per Window
	Window       time.Duration // sliding window length
	MinInterval  time.Duration // minimum gap between consecutive calls
	SafetyBuffer time.Duration // extra wait added when the window is full
}

// DefaultConfig matches the brokerage quota: 30 calls / 30s, 20ms apart
func DefaultConfig() Config {
	return Config{
		MaxCalls:     30,
		Window:       30 * time.Second,
		MinInterval:  20 * time.Millisecond,
		SafetyBuffer: 50 * time.Millisecond,
	}
}

// Limiter serializes and throttles calls to a quota-limited API
// ⭐ SSOT: 브로커 API 호출 한도는 이 리미터에서만
type Limiter struct {
	cfg     Config
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics

	// token is a 1-slot semaphore; blocked receivers are served in arrival order
	token chan struct{}

	// guarded by token
	calls []time.Time
}

// New creates a limiter; non-positive MaxCalls/Window fall back to defaults
func New(cfg Config, clk clock.Clock, log *logger.Logger, m *metrics.Metrics) *Limiter {
	def := DefaultConfig()
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = def.MaxCalls
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.SafetyBuffer < 0 {
		cfg.SafetyBuffer = 0
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}

	l := &Limiter{
		cfg:     cfg,
		clock:   clk,
		logger:  log.WithComponent("ratelimit"),
		metrics: m,
		token:   make(chan struct{}, 1),
		calls:   make([]time.Time, 0, cfg.MaxCalls),
	}
	l.token <- struct{}{}
	return l
}

// Throttle must be called immediately before every metered operation.
// It returns only when the call may proceed (nil) or ctx ended (ctx.Err()).
// A cancelled wait records no call.
func (l *Limiter) Throttle(ctx context.Context) error {
	start := l.clock.Now()

	select {
	case <-l.token:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { l.token <- struct{}{} }()

	// Minimum spacing
	if n := len(l.calls); n > 0 && l.cfg.MinInterval > 0 {
		since := l.clock.Now().Sub(l.calls[n-1])
		if since < l.cfg.MinInterval {
			if err := l.clock.Sleep(ctx, l.cfg.MinInterval-since); err != nil {
				return err
			}
		}
	}

	// Sliding window
	now := l.clock.Now()
	l.prune(now)

	if len(l.calls) >= l.cfg.MaxCalls {
		oldest, ok := l.oldest()
		if !ok {
			l.logger.WithFields(map[string]interface{}{
				"count":     len(l.calls),
				"max_calls": l.cfg.MaxCalls,
			}).Error("Rate limiter window empty while full")
			panic(fmt.Sprintf("ratelimit: empty window with count %d >= max %d", len(l.calls), l.cfg.MaxCalls))
		}

		wait := l.cfg.Window - now.Sub(oldest) + l.cfg.SafetyBuffer
		l.logger.WithFields(map[string]interface{}{
			"wait":      wait,
			"in_window": len(l.calls),
		}).Debug("API quota exhausted, waiting")

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		now = l.clock.Now()
		l.prune(now)
	}

	l.calls = append(l.calls, now)
	l.metrics.ObserveThrottleWait(now.Sub(start).Seconds())
	return nil
}

// prune drops timestamps older than the window
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func (l *Limiter) oldest() (time.Time, bool) {
	if len(l.calls) == 0 {
		return time.Time{}, false
	}
	return l.calls[0], true
}

// Stats is a diagnostic snapshot
type Stats struct {
	MaxCalls    int           `json:"max_calls"`
	Window      time.Duration `json:"window"`
	MinInterval time.Duration `json:"min_interval"`
	InWindow    int           `json:"in_window"`
	LastCall    *time.Time    `json:"last_call,omitempty"`
}

// Stats waits for the token, so it never observes a half-finished throttle
func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	select {
	case <-l.token:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	defer func() { l.token <- struct{}{} }()

	l.prune(l.clock.Now())
	s := Stats{
		MaxCalls:    l.cfg.MaxCalls,
		Window:      l.cfg.Window,
		MinInterval: l.cfg.MinInterval,
		InWindow:    len(l.calls),
	}
	if n := len(l.calls); n > 0 {
		last := l.calls[n-1]
		s.LastCall = &last
	}
	return s, nil
}
