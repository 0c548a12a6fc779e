package lifecycle

import (
	"context"
	"time"
)

// State is one of the five cross-day phases
type State string

const (
	StateActive            State = "ACTIVE"
	StateMidnightCleaning  State = "MIDNIGHT_CLEANING"
	StateMidnightCleaned   State = "MIDNIGHT_CLEANED"
	StateOpenRebuilding    State = "OPEN_REBUILDING"
	StateOpenRebuildFailed State = "OPEN_REBUILD_FAILED"
)

// AllStates lists every state (metrics labels)
func AllStates() []string {
	return []string{
		string(StateActive),
		string(StateMidnightCleaning),
		string(StateMidnightCleaned),
		string(StateOpenRebuilding),
		string(StateOpenRebuildFailed),
	}
}

// Valid reports whether s is a known state
func (s State) Valid() bool {
	switch s {
	case StateActive, StateMidnightCleaning, StateMidnightCleaned, StateOpenRebuilding, StateOpenRebuildFailed:
		return true
	}
	return false
}

// MutableState is the process-wide lifecycle record. Only Manager mutates it.
// An empty day key means no day has been cleaned yet.
type MutableState struct {
	CurrentDayKey       string    `json:"current_day_key"`
	LifecycleState      State     `json:"lifecycle_state"`
	PendingOpenRebuild  bool      `json:"pending_open_rebuild"`
	TargetTradingDayKey string    `json:"target_trading_day_key"`
	IsTradingEnabled    bool      `json:"is_trading_enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TradingDayFacts is what the calendar knows about "now"
type TradingDayFacts struct {
	DayKey       string `json:"day_key"`
	IsTradingDay bool   `json:"is_trading_day"`
	CanTradeNow  bool   `json:"can_trade_now"`
}

// Context is handed to every domain callback. Domains must treat it as read-only.
type Context struct {
	Now      time.Time
	DayKey   string
	Facts    TradingDayFacts
	State    State
	Attempt  int
	Previous string // day key before this pass
}

// CacheDomain is a day-scoped cache torn down at midnight and rebuilt at open
type CacheDomain interface {
	Name() string
	MidnightClear(ctx context.Context, lc Context) error
	OpenRebuild(ctx context.Context, lc Context) error
}

// Transition is one recorded state change (or failed pass)
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	DayKey  string    `json:"day_key"`
	At      time.Time `json:"at"`
	Domain  string    `json:"domain,omitempty"`
	Error   string    `json:"error,omitempty"`
	Trading bool      `json:"trading_enabled"`
}

// TransitionFunc observes transitions; it runs on the tick goroutine
type TransitionFunc func(Transition)
