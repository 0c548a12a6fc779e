package calendar

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-warrant/internal/external/hkex"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/redis"
)

// HolidaySource fetches the exchange holiday list for a year
type HolidaySource interface {
	FetchHolidays(ctx context.Context, year int) ([]hkex.Holiday, error)
}

// Refresher keeps the calendar's fetched holidays current.
// Fetched lists are cached in Redis so a restart during an outage still knows them.
type Refresher struct {
	calendar *Calendar
	source   HolidaySource
	cache    *redis.Cache
	logger   *logger.Logger
}

// NewRefresher creates a refresher; cache may be nil
func NewRefresher(cal *Calendar, source HolidaySource, cache *redis.Cache, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.Nop()
	}
	return &Refresher{
		calendar: cal,
		source:   source,
		cache:    cache,
		logger:   log.WithComponent("calendar"),
	}
}

// Refresh loads holidays for year: from the source, else from the Redis copy
func (r *Refresher) Refresh(ctx context.Context, year int) (int, error) {
	holidays, fetchErr := r.source.FetchHolidays(ctx, year)
	if fetchErr == nil {
		r.calendar.SetHolidays(holidays)
		if r.cache != nil {
			if err := r.cache.Set(ctx, redis.HolidaysKey(year), holidays, redis.TTLWeek); err != nil {
				r.logger.WithError(err).Warn("Failed to cache holidays")
			}
		}
		r.logger.WithFields(map[string]interface{}{
			"year":  year,
			"count": len(holidays),
		}).Info("Holiday calendar refreshed")
		return len(holidays), nil
	}

	r.logger.WithError(fetchErr).Warn("Holiday fetch failed, trying cached copy")
	if r.cache != nil {
		var cached []hkex.Holiday
		ok, err := r.cache.Get(ctx, redis.HolidaysKey(year), &cached)
		if err == nil && ok {
			r.calendar.SetHolidays(cached)
			return len(cached), nil
		}
	}
	return 0, fmt.Errorf("refresh holidays %d: %w", year, fetchErr)
}
