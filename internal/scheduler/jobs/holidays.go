package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis-warrant/internal/clock"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// HolidayRefresher loads one year of exchange holidays
type HolidayRefresher interface {
	Refresh(ctx context.Context, year int) (int, error)
}

// HolidayRefreshJob reloads the holiday calendar daily
// ⭐ SSOT: 휴장일 갱신 스케줄은 이 Job에서만
type HolidayRefreshJob struct {
	refresher HolidayRefresher
	clock     clock.Clock
	loc       *time.Location
	logger    *logger.Logger
}

// NewHolidayRefreshJob creates the job; loc is the market timezone
func NewHolidayRefreshJob(r HolidayRefresher, clk clock.Clock, loc *time.Location, log *logger.Logger) *HolidayRefreshJob {
	return &HolidayRefreshJob{
		refresher: r,
		clock:     clk,
		loc:       loc,
		logger:    log,
	}
}

// Name returns the job name
func (j *HolidayRefreshJob) Name() string {
	return "holiday_refresh"
}

// Schedule returns the cron schedule (daily 06:00 server time)
func (j *HolidayRefreshJob) Schedule() string {
	return "0 0 6 * * *"
}

// Run refreshes the current year, and the next one during December
func (j *HolidayRefreshJob) Run(ctx context.Context) error {
	now := j.clock.Now().In(j.loc)
	years := []int{now.Year()}
	if now.Month() == time.December {
		years = append(years, now.Year()+1)
	}

	for _, year := range years {
		count, err := j.refresher.Refresh(ctx, year)
		if err != nil {
			return fmt.Errorf("refresh holidays %d: %w", year, err)
		}
		j.logger.WithFields(map[string]interface{}{
			"year":  year,
			"count": count,
		}).Info("Holidays refreshed")
	}
	return nil
}
