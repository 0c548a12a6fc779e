package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/aegis-warrant/pkg/redis"
)

// MemoryStore keeps state in process (paper mode, tests)
type MemoryStore struct {
	mu    sync.Mutex
	st    MutableState
	saved bool
	saves int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (MutableState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.saved, nil
}

func (s *MemoryStore) Save(ctx context.Context, st MutableState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st
	s.saved = true
	s.saves++
	return nil
}

// Saves returns how many times Save was called
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// RedisStore persists state as JSON under lifecycle:state:<account>
// ⭐ SSOT: 라이프사이클 상태 영속화는 여기서만
type RedisStore struct {
	cache *redis.Cache
	key   string
}

// NewRedisStore binds the store to one brokerage account
func NewRedisStore(cache *redis.Cache, account string) *RedisStore {
	return &RedisStore{
		cache: cache,
		key:   redis.LifecycleStateKey(account),
	}
}

func (s *RedisStore) Load(ctx context.Context) (MutableState, bool, error) {
	var st MutableState
	ok, err := s.cache.Get(ctx, s.key, &st)
	if err != nil {
		return MutableState{}, false, fmt.Errorf("redis lifecycle load: %w", err)
	}
	return st, ok, nil
}

// Save writes without expiry; the state must survive long weekends
func (s *RedisStore) Save(ctx context.Context, st MutableState) error {
	if err := s.cache.Set(ctx, s.key, st, 0); err != nil {
		return fmt.Errorf("redis lifecycle save: %w", err)
	}
	return nil
}
