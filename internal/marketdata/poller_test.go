package marketdata

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/internal/contracts"
)

func TestPoller_PollOnceBatches(t *testing.T) {
	snap := &fakeSnapshot{quotes: map[string]contracts.Quote{
		"A.HK": quote("A.HK", "0.1", t0),
		"B.HK": quote("B.HK", "0.2", t0),
		"C.HK": quote("C.HK", "0.3", t0),
	}}
	c, _ := newCache(nil, snap)
	require.NoError(t, c.Subscribe(context.Background(), []string{"A.HK", "B.HK", "C.HK"}))

	p := NewPoller(PollerConfig{BatchSize: 2, PerSecond: 100}, c, nil, nil)
	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Len(t, snap.calls, 2)
	assert.Equal(t, 3, c.Len())

	// an older snapshot never overwrites the cache
	snap.mu.Lock()
	snap.quotes["A.HK"] = quote("A.HK", "0.05", t0.Add(-time.Second))
	snap.mu.Unlock()
	n, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	q, ok := c.Get("A.HK")
	require.True(t, ok)
	assert.Equal(t, "0.1", q.Last.String())
}

func TestPoller_NoSnapshotSource(t *testing.T) {
	c, _ := newCache(nil, nil)
	p := NewPoller(PollerConfig{}, c, nil, nil)

	n, err := p.PollOnce(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoller_InactiveSkipsPolling(t *testing.T) {
	snap := &fakeSnapshot{quotes: map[string]contracts.Quote{}}
	c, _ := newCache(nil, snap)
	require.NoError(t, c.Subscribe(context.Background(), []string{"A.HK"}))

	var checks atomic.Int32
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond}, c, func() bool {
		checks.Add(1)
		return false
	}, nil)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return checks.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()

	snap.mu.Lock()
	defer snap.mu.Unlock()
	assert.Empty(t, snap.calls)
}

func TestPoller_CancelledWait(t *testing.T) {
	snap := &fakeSnapshot{quotes: map[string]contracts.Quote{}}
	c, _ := newCache(nil, snap)
	require.NoError(t, c.Subscribe(context.Background(), []string{"A.HK", "B.HK"}))

	p := NewPoller(PollerConfig{BatchSize: 1, PerSecond: 1}, c, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.PollOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoller_StartStop(t *testing.T) {
	snap := &fakeSnapshot{quotes: map[string]contracts.Quote{"1.HK": quote("1.HK", "0.1", t0)}}
	c, _ := newCache(nil, snap)
	require.NoError(t, c.Subscribe(context.Background(), []string{"1.HK"}))

	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond, PerSecond: 1000}, c, func() bool { return true }, nil)
	p.Start(context.Background())

	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()
}
