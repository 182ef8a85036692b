package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/shared/storage/cache"
)

// ErrStateNotFound is returned when no state is cached for a batch.
var ErrStateNotFound = errors.New("batch state not found")

// StateStore persists batch states keyed by batch ID.
type StateStore interface {
	Get(ctx context.Context, batchID string) (State, error)
	Put(ctx context.Context, state State) error
	Delete(ctx context.Context, batchID string) error
}

// MemoryStore keeps states in process memory. States are lost on restart
// and must be re-tracked from the source document.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(ctx context.Context, batchID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[batchID]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return st, nil
}

func (m *MemoryStore) Put(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.BatchID] = state
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, batchID)
	return nil
}

// CacheStore persists states as JSON in a cache such as Redis, so they
// survive restarts of the worker.
type CacheStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheStore stores states in c. A zero ttl keeps them until deleted.
func NewCacheStore(c cache.Cache, ttl time.Duration) *CacheStore {
	return &CacheStore{cache: c, ttl: ttl}
}

func stateKey(batchID string) string {
	return "batch:" + batchID
}

func (s *CacheStore) Get(ctx context.Context, batchID string) (State, error) {
	raw, err := s.cache.Get(ctx, stateKey(batchID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return State{}, ErrStateNotFound
	}
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, errors.Wrapf(err, "decode batch state %s", batchID)
	}
	return st, nil
}

func (s *CacheStore) Put(ctx context.Context, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "encode batch state %s", state.BatchID)
	}
	return s.cache.Set(ctx, stateKey(state.BatchID), raw, s.ttl)
}

func (s *CacheStore) Delete(ctx context.Context, batchID string) error {
	return s.cache.Delete(ctx, stateKey(batchID))
}

var (
	_ StateStore = (*MemoryStore)(nil)
	_ StateStore = (*CacheStore)(nil)
)
