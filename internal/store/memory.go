package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory. It is the default backend for tests
// and for local runs without Redis or PostgreSQL.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Update stages writes in an overlay and applies them under the write lock once fn succeeds.
// The lock is not held while fn runs, so fn may read through the store itself.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{parent: s, writes: make(map[string]map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for bucket, values := range tx.writes {
		if s.buckets[bucket] == nil {
			s.buckets[bucket] = make(map[string][]byte)
		}
		for key, value := range values {
			s.buckets[bucket][key] = value
		}
	}
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	parent *MemoryStore
	writes map[string]map[string][]byte
}

func (t *memoryTx) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if value, ok := t.writes[bucket][key]; ok {
		return append([]byte(nil), value...), nil
	}
	return t.parent.Get(ctx, bucket, key)
}

func (t *memoryTx) Put(ctx context.Context, bucket, key string, value []byte) error {
	if t.writes[bucket] == nil {
		t.writes[bucket] = make(map[string][]byte)
	}
	t.writes[bucket][key] = append([]byte(nil), value...)
	return nil
}
