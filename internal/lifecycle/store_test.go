package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/pkg/config"
	"github.com/wonny/aegis-warrant/pkg/redis"
)

func TestRedisStore_DisabledIsNoop(t *testing.T) {
	client, err := redis.New(context.Background(), &config.Config{})
	require.NoError(t, err)

	store := NewRedisStore(redis.NewCache(client, "test"), "HK123")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, MutableState{LifecycleState: StateActive}))
	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "lifecycle:state:HK123", store.key)
}

func TestJournal_NilPoolDisabled(t *testing.T) {
	j := NewJournal(nil)
	assert.NoError(t, j.Append(context.Background(), Transition{From: StateActive, To: StateMidnightCleaning}))

	out, err := j.Recent(context.Background(), "2026-03-02", 10)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestState_Valid(t *testing.T) {
	for _, s := range AllStates() {
		assert.True(t, State(s).Valid(), s)
	}
	assert.False(t, State("BOGUS").Valid())
}
