// Package calendar answers "which trading day is it and may we trade now"
// in the market's local time.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/wonny/aegis-warrant/internal/external/hkex"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/pkg/config"
)

// DayKeyLayout formats market-local dates
const DayKeyLayout = "2006-01-02"

// Session is a continuous trading interval, as offsets from local midnight
type Session struct {
	Start time.Duration
	End   time.Duration
}

// Contains reports whether offset falls in [Start, End)
func (s Session) Contains(offset time.Duration) bool {
	return offset >= s.Start && offset < s.End
}

func (s Session) String() string {
	return fmt.Sprintf("%s-%s", formatOffset(s.Start), formatOffset(s.End))
}

// ParseSessions parses "09:30-12:00,13:00-16:00"
func ParseSessions(spec string) ([]Session, error) {
	var sessions []Session
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid session %q", part)
		}
		start, err := parseOffset(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid session %q: %w", part, err)
		}
		end, err := parseOffset(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid session %q: %w", part, err)
		}
		if end <= start {
			return nil, fmt.Errorf("invalid session %q: end before start", part)
		}
		sessions = append(sessions, Session{Start: start, End: end})
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no trading sessions configured")
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Start < sessions[j].Start })
	return sessions, nil
}

func parseOffset(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Calendar combines sessions, weekends and exchange holidays
// ⭐ SSOT: 거래일/장중 판단은 여기서만
type Calendar struct {
	loc      *time.Location
	sessions []Session

	mu       sync.RWMutex
	static   map[string]string
	holidays map[string]string // day key -> name (static + fetched)
}

// New builds a calendar from config; static holidays use YYYY-MM-DD
func New(cfg config.CalendarConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}
	sessions, err := ParseSessions(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	static := make(map[string]string, len(cfg.Holidays))
	for _, day := range cfg.Holidays {
		if _, err := time.Parse(DayKeyLayout, day); err != nil {
			return nil, fmt.Errorf("invalid static holiday %q: %w", day, err)
		}
		static[day] = "configured"
	}

	c := &Calendar{
		loc:      loc,
		sessions: sessions,
		static:   static,
	}
	c.SetHolidays(nil)
	return c, nil
}

// Location returns the market timezone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Sessions returns the configured sessions
func (c *Calendar) Sessions() []Session {
	return append([]Session(nil), c.sessions...)
}

// DayKey is the market-local date of now
func (c *Calendar) DayKey(now time.Time) string {
	return now.In(c.loc).Format(DayKeyLayout)
}

// SetHolidays replaces the fetched holidays; static ones always remain
func (c *Calendar) SetHolidays(fetched []hkex.Holiday) {
	merged := make(map[string]string, len(c.static)+len(fetched))
	for day, name := range c.static {
		merged[day] = name
	}
	for _, h := range fetched {
		merged[h.Date.Format(DayKeyLayout)] = h.Name
	}

	c.mu.Lock()
	c.holidays = merged
	c.mu.Unlock()
}

// Holidays returns every known holiday, sorted by date
func (c *Calendar) Holidays() []hkex.Holiday {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]hkex.Holiday, 0, len(c.holidays))
	for day, name := range c.holidays {
		d, err := time.Parse(DayKeyLayout, day)
		if err != nil {
			continue
		}
		out = append(out, hkex.Holiday{Date: d, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// IsHoliday reports whether the market-local date of now is a holiday
func (c *Calendar) IsHoliday(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holidays[c.DayKey(now)]
	return ok
}

// IsTradingDay is a weekday that is not a holiday
func (c *Calendar) IsTradingDay(now time.Time) bool {
	local := now.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(now)
}

// InSession reports whether now falls inside a trading session (ignores day type)
func (c *Calendar) InSession(now time.Time) bool {
	local := now.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	offset := local.Sub(midnight)
	for _, s := range c.sessions {
		if s.Contains(offset) {
			return true
		}
	}
	return false
}

// Facts is what the lifecycle manager consumes each tick
func (c *Calendar) Facts(now time.Time) lifecycle.TradingDayFacts {
	tradingDay := c.IsTradingDay(now)
	return lifecycle.TradingDayFacts{
		DayKey:       c.DayKey(now),
		IsTradingDay: tradingDay,
		CanTradeNow:  tradingDay && c.InSession(now),
	}
}

// NextOpen returns the start of the next session at or after now
func (c *Calendar) NextOpen(now time.Time) time.Time {
	local := now.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	// two weeks covers any holiday cluster
	for i := 0; i < 14; i++ {
		if c.IsTradingDay(day) {
			for _, s := range c.sessions {
				start := day.Add(s.Start)
				end := day.Add(s.End)
				if now.Before(end) {
					if now.After(start) {
						return now
					}
					return start
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}
