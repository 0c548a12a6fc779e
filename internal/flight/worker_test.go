package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/pkg/metrics"
)

type recorder struct {
	mu     sync.Mutex
	inputs []int
}

func (r *recorder) add(v int) {
	r.mu.Lock()
	r.inputs = append(r.inputs, v)
	r.mu.Unlock()
}

func (r *recorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.inputs))
	copy(out, r.inputs)
	return out
}

func waitIdle(t *testing.T, w *Worker[int]) {
	t.Helper()
	assert.Eventually(t, func() bool {
		s := w.Stats()
		return !s.InFlight && !s.Pending
	}, 2*time.Second, 2*time.Millisecond)
}

func TestWorker_LatestOverwrite(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 10)
	release := make(chan struct{})

	w := New("test", func(ctx context.Context, in int) error {
		rec.add(in)
		started <- struct{}{}
		if in == 1 {
			<-release
		}
		return nil
	}, nil, nil, metrics.New())
	w.Start(context.Background())

	require.True(t, w.Schedule(1))
	<-started

	// arrive while the first run is executing
	w.Schedule(2)
	w.Schedule(3)
	w.Schedule(4)
	assert.True(t, w.Stats().Pending)

	close(release)
	waitIdle(t, w)

	assert.Equal(t, []int{1, 4}, rec.get())
	assert.Equal(t, int64(2), w.Stats().Runs)
}

func TestWorker_NeverOverlapsUnderStorm(t *testing.T) {
	var active, maxActive atomic.Int32
	w := New("storm", func(ctx context.Context, in int) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(200 * time.Microsecond)
		active.Add(-1)
		return nil
	}, nil, nil, nil)
	w.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w.Schedule(g*1000 + i)
			}
		}(g)
	}
	wg.Wait()
	waitIdle(t, w)

	assert.Equal(t, int32(1), maxActive.Load())
	assert.GreaterOrEqual(t, w.Stats().Runs, int64(1))
}

func TestWorker_FailureReportedAndContinues(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	var (
		mu     sync.Mutex
		failed []int
	)
	w := New("faulty", func(ctx context.Context, in int) error {
		rec.add(in)
		switch in {
		case 1:
			return boom
		case 2:
			panic("kaboom")
		}
		return nil
	}, func(in int, err error) {
		mu.Lock()
		failed = append(failed, in)
		mu.Unlock()
	}, nil, nil)
	w.Start(context.Background())

	w.Schedule(1)
	waitIdle(t, w)
	w.Schedule(2)
	waitIdle(t, w)
	w.Schedule(3)
	waitIdle(t, w)

	assert.Equal(t, []int{1, 2, 3}, rec.get())
	mu.Lock()
	assert.Equal(t, []int{1, 2}, failed)
	mu.Unlock()
	assert.Equal(t, int64(2), w.Stats().Failures)
}

func TestWorker_StoppedRejectsInput(t *testing.T) {
	w := New("stopped", func(ctx context.Context, in int) error { return nil }, nil, nil, nil)
	assert.False(t, w.Schedule(1), "not started")

	w.Start(context.Background())
	w.Stop()
	assert.False(t, w.Schedule(2))
	assert.Equal(t, int64(0), w.Stats().Runs)
}

func TestWorker_StopDiscardsPending(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	w := New("stop", func(ctx context.Context, in int) error {
		rec.add(in)
		if in == 1 {
			started <- struct{}{}
			<-release
		}
		return nil
	}, nil, nil, nil)
	w.Start(context.Background())

	w.Schedule(1)
	<-started
	w.Schedule(2)
	w.Stop()
	close(release)
	waitIdle(t, w)

	assert.Equal(t, []int{1}, rec.get())
}

func TestWorker_StopAndDrainWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	w := New("drain", func(ctx context.Context, in int) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}, nil, nil, nil)
	w.Start(context.Background())

	w.Schedule(1)
	<-started

	require.NoError(t, w.StopAndDrain(context.Background()))
	assert.True(t, finished.Load())
	assert.False(t, w.Schedule(2))
}

func TestWorker_StopAndDrainTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	w := New("slow", func(ctx context.Context, in int) error {
		close(started)
		<-release
		return nil
	}, nil, nil, nil)
	w.Start(context.Background())
	w.Schedule(1)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.StopAndDrain(ctx), context.DeadlineExceeded)
}

func TestWorker_StopAndDrainIdle(t *testing.T) {
	w := New("idle", func(ctx context.Context, in int) error { return nil }, nil, nil, nil)
	assert.NoError(t, w.StopAndDrain(context.Background()))
}

func TestWorker_ClearLatestQueued(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	w := New("clear", func(ctx context.Context, in int) error {
		rec.add(in)
		if in == 1 {
			started <- struct{}{}
			<-release
		}
		return nil
	}, nil, nil, nil)
	w.Start(context.Background())

	w.Schedule(1)
	<-started
	w.Schedule(2)
	w.ClearLatestQueued()
	close(release)
	waitIdle(t, w)

	assert.Equal(t, []int{1}, rec.get())
	assert.True(t, w.Schedule(3), "still accepting after clear")
	waitIdle(t, w)
	assert.Equal(t, []int{1, 3}, rec.get())
}
