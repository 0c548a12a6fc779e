package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_DrainsInOrder(t *testing.T) {
	q := New[int]("drain", nil, nil)

	var (
		mu   sync.Mutex
		seen []int
	)
	done := make(chan struct{})
	p := NewProcessor(q, func(ctx context.Context, task Task[int]) bool {
		mu.Lock()
		seen = append(seen, task.Payload)
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return true
	}, nil, nil)

	q.ScheduleLatest(spec("a", 1))
	q.ScheduleLatest(spec("b", 2))

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	q.ScheduleLatest(spec("c", 3))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not drain queue")
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, seen)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		return p.Stats().Processed == 3
	}, time.Second, 5*time.Millisecond)
}

func TestProcessor_OneAtATime(t *testing.T) {
	q := New[int]("serial", nil, nil)

	var active, maxActive, total atomic.Int32
	p := NewProcessor(q, func(ctx context.Context, task Task[int]) bool {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		total.Add(1)
		return true
	}, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	for i := 0; i < 20; i++ {
		q.ScheduleLatest(spec(string(rune('a'+i)), i))
	}

	assert.Eventually(t, func() bool { return total.Load() == 20 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestProcessor_FailureAndPanicKeepRunning(t *testing.T) {
	q := New[int]("faulty", nil, nil)

	p := NewProcessor(q, func(ctx context.Context, task Task[int]) bool {
		switch task.Payload {
		case 1:
			return false
		case 2:
			panic("boom")
		}
		return true
	}, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	q.ScheduleLatest(spec("a", 1))
	q.ScheduleLatest(spec("b", 2))
	q.ScheduleLatest(spec("c", 3))

	assert.Eventually(t, func() bool {
		s := p.Stats()
		return s.Processed == 1 && s.Failed == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProcessor_StartTwice(t *testing.T) {
	q := New[int]("twice", nil, nil)
	p := NewProcessor(q, func(context.Context, Task[int]) bool { return true }, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrProcessorRunning)

	p.Stop()
	p.Stop()
	assert.False(t, p.Stats().Running)
}

func TestProcessor_StopLeavesQueuedTasks(t *testing.T) {
	q := New[int]("stopped", nil, nil)
	p := NewProcessor(q, func(context.Context, Task[int]) bool { return true }, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	p.Stop()

	q.ScheduleLatest(spec("a", 1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.Size())
}
