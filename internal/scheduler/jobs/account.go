package jobs

import (
	"context"

	"github.com/wonny/aegis-warrant/pkg/logger"
)

// AccountRefresher requests an asynchronous account refresh
type AccountRefresher interface {
	RequestRefresh() uint64
}

// TradingGate reports whether orders may be placed
type TradingGate interface {
	IsTradingEnabled() bool
}

// AccountRefreshJob catches account changes not caused by engine orders
type AccountRefreshJob struct {
	account AccountRefresher
	gate    TradingGate
	logger  *logger.Logger
}

// NewAccountRefreshJob creates the periodic account refresh job
func NewAccountRefreshJob(account AccountRefresher, gate TradingGate, log *logger.Logger) *AccountRefreshJob {
	return &AccountRefreshJob{
		account: account,
		gate:    gate,
		logger:  log,
	}
}

// Name returns the job name
func (j *AccountRefreshJob) Name() string {
	return "account_refresh"
}

// Schedule returns the cron schedule (every 5 minutes)
func (j *AccountRefreshJob) Schedule() string {
	return "0 */5 * * * *"
}

// Run schedules a refresh while trading is enabled; outside trading the
// lifecycle owns the account cache.
func (j *AccountRefreshJob) Run(ctx context.Context) error {
	if !j.gate.IsTradingEnabled() {
		return nil
	}
	version := j.account.RequestRefresh()
	j.logger.WithField("stale_version", version).Debug("Periodic account refresh requested")
	return nil
}
