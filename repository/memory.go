package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/centraunit/modkit"
)

var _ modkit.Store[string, int] = (*MemoryStore[string, int])(nil)

// MemoryStore is an in-process Store.
type MemoryStore[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{values: make(map[K]V)}
}

func (s *MemoryStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		var zero V
		return zero, modkit.ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore[K, V]) Put(ctx context.Context, key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *MemoryStore[K, V]) Remove(ctx context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the stored keys ordered by less.
func (s *MemoryStore[K, V]) Keys(less func(a, b K) bool) []K {
	s.mu.RLock()
	keys := make([]K, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}
