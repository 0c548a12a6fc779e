package jobs

import (
	"context"
	"time"

	"github.com/wonny/aegis-warrant/pkg/logger"
)

// CooldownSweeper evicts expired cooldown entries
type CooldownSweeper interface {
	Sweep(maxAge time.Duration) int
}

// CooldownSweepJob keeps the cooldown map from growing across the day
type CooldownSweepJob struct {
	cooldowns CooldownSweeper
	maxAge    func() time.Duration
	logger    *logger.Logger
}

// NewCooldownSweepJob creates the sweep job; maxAge is the longest configured cooldown
func NewCooldownSweepJob(cooldowns CooldownSweeper, maxAge func() time.Duration, log *logger.Logger) *CooldownSweepJob {
	return &CooldownSweepJob{
		cooldowns: cooldowns,
		maxAge:    maxAge,
		logger:    log,
	}
}

// Name returns the job name
func (j *CooldownSweepJob) Name() string {
	return "cooldown_sweep"
}

// Schedule returns the cron schedule (every minute)
func (j *CooldownSweepJob) Schedule() string {
	return "0 * * * * *"
}

// Run executes the sweep
func (j *CooldownSweepJob) Run(ctx context.Context) error {
	removed := j.cooldowns.Sweep(j.maxAge())
	if removed > 0 {
		j.logger.WithField("removed", removed).Debug("Cooldown sweep completed")
	}
	return nil
}
