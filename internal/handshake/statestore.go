// internal/handshake/statestore.go
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlowMeta is what the callback needs to tie a provider redirect back to the
// flow that started it.
type FlowMeta struct {
	FlowID string `json:"flow_id"`
	UserID string `json:"user_id"`
}

// StateStore holds single-use OAuth state tokens. Take consumes: a second
// Take of the same state finds nothing, which is what defeats replay.
type StateStore interface {
	Put(ctx context.Context, state string, meta FlowMeta, ttl time.Duration) error
	Take(ctx context.Context, state string) (FlowMeta, bool, error)
}

// RedisStateStore backs states with redis so a multi-replica deployment can
// receive the callback on any replica.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func stateKey(state string) string { return "gatekit:hs:state:" + state }

func (s *RedisStateStore) Put(ctx context.Context, state string, meta FlowMeta, ttl time.Duration) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(state), raw, ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (FlowMeta, bool, error) {
	raw, err := s.rdb.GetDel(ctx, stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return FlowMeta{}, false, nil
	}
	if err != nil {
		return FlowMeta{}, false, err
	}
	var meta FlowMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return FlowMeta{}, false, err
	}
	return meta, true, nil
}

// MemoryStateStore is the single-process fallback when REDIS_URL is unset.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memState
}

type memState struct {
	meta    FlowMeta
	expires time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]memState{}}
}

func (s *MemoryStateStore) Put(ctx context.Context, state string, meta FlowMeta, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	// Purge expired states here; callbacks that never arrive would
	// otherwise leave their entries behind forever.
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = memState{meta: meta, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(ctx context.Context, state string) (FlowMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok {
		return FlowMeta{}, false, nil
	}
	delete(s.entries, state)
	if time.Now().After(e.expires) {
		return FlowMeta{}, false, nil
	}
	return e.meta, true, nil
}
