package demo

import (
	"context"
	"fmt"
	"sync"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/repository"
)

// HistoryRepository persists the sequence of counter values.
type HistoryRepository struct {
	mu    sync.Mutex
	store modkit.Store[string, []int]
}

func newHistoryRepository(store modkit.Store[string, []int]) func(*modkit.Deps) (*HistoryRepository, error) {
	return func(deps *modkit.Deps) (*HistoryRepository, error) {
		backend := store
		if backend == nil {
			backend = repository.NewMemoryStore[string, []int]()
		}
		return &HistoryRepository{store: backend}, nil
	}
}

// Append adds value to the stored history.
func (h *HistoryRepository) Append(ctx context.Context, value int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	values, err := h.load(ctx)
	if err != nil {
		return err
	}
	return h.store.Put(ctx, HistoryKey, append(values, value))
}

// Values returns the stored history, oldest first. No history is not an error.
func (h *HistoryRepository) Values(ctx context.Context) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(ctx)
}

// Clear drops the stored history.
func (h *HistoryRepository) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Remove(ctx, HistoryKey)
}

func (h *HistoryRepository) load(ctx context.Context) ([]int, error) {
	values, err := h.store.Get(ctx, HistoryKey)
	if modkit.IsNotFound(err) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return values, nil
}
