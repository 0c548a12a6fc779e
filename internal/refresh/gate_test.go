package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_FreshByDefault(t *testing.T) {
	g := NewGate("account", nil)
	assert.NoError(t, g.WaitForFresh(context.Background()))
	assert.Equal(t, Status{Name: "account", Fresh: true}, g.Status())
}

func TestGate_WaiterReleasedOnlyWhenCaughtUp(t *testing.T) {
	g := NewGate("account", nil)
	v1 := g.MarkStale()
	v2 := g.MarkStale()
	require.Equal(t, uint64(2), v2)

	released := make(chan struct{})
	go func() {
		assert.NoError(t, g.WaitForFresh(context.Background()))
		close(released)
	}()

	// An older refresh does not satisfy the newest requirement
	g.MarkFresh(v1)
	select {
	case <-released:
		t.Fatal("waiter released while current < stale")
	case <-time.After(30 * time.Millisecond):
	}

	g.MarkFresh(v2)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter not released after final MarkFresh")
	}
	assert.True(t, g.IsFresh())
}

func TestGate_CurrentNeverDecreases(t *testing.T) {
	g := NewGate("positions", nil)
	g.MarkStale()
	g.MarkStale()
	g.MarkStale()

	g.MarkFresh(3)
	g.MarkFresh(1)

	st := g.Status()
	assert.Equal(t, uint64(3), st.CurrentVersion)
	assert.True(t, st.Fresh)
}

func TestGate_ReleasesManyWaiters(t *testing.T) {
	g := NewGate("account", nil)
	v := g.MarkStale()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.WaitForFresh(context.Background()))
		}()
	}

	time.Sleep(10 * time.Millisecond)
	g.MarkFresh(v)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all waiters released")
	}
}

func TestGate_WaitHonoursContext(t *testing.T) {
	g := NewGate("account", nil)
	g.MarkStale()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.WaitForFresh(ctx), context.DeadlineExceeded)
}
