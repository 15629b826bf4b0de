package modkit

import (
	"context"
	"sync"
)

// Change is the notification payload of a Stateful value.
type Change[T any] struct {
	Previous T `json:"previous"`
	Current  T `json:"current"`
}

// Stateful holds a value owned by a single service. Every mutation is
// applied in memory first and then announced on the value's topic. Readers
// observe the value through Get or through change notifications only.
type Stateful[T any] struct {
	// pubMu orders change-and-publish so observers see changes in state order.
	pubMu sync.Mutex
	mu    sync.RWMutex
	value T
	topic Topic[Change[T]]
	bus   *Bus
	scope *ScopeInstance
}

// NewStateful creates state for the service under construction. Changes are
// published on key.
func NewStateful[T any](deps *Deps, key EventKey, initial T) *Stateful[T] {
	return &Stateful[T]{
		value: initial,
		topic: NewTopic[Change[T]](key),
		bus:   deps.Bus(),
		scope: deps.Scope(),
	}
}

// Get returns the current value.
func (s *Stateful[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Topic returns the change channel.
func (s *Stateful[T]) Topic() Topic[Change[T]] {
	return s.topic
}

// Set replaces the value.
func (s *Stateful[T]) Set(ctx context.Context, v T) error {
	return s.Update(ctx, func(T) (T, error) { return v, nil })
}

// Update applies fn to the current value. If fn fails nothing changes and
// nothing is published. Once the owning scope has closed, Update is refused.
//
// Concurrent updates are applied and announced one at a time, so handlers
// observe changes in the order they were made. A handler reacting to this
// value's own change may call Update with the context it received; the
// nested change is announced before the outer publish returns.
func (s *Stateful[T]) Update(ctx context.Context, fn func(current T) (T, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key := updatingKey{state: s}
	if ctx.Value(key) == nil {
		s.pubMu.Lock()
		defer s.pubMu.Unlock()
		ctx = context.WithValue(ctx, key, true)
	}
	if !s.scope.Alive() {
		return &ScopeClosedError{Scope: s.scope.String()}
	}

	s.mu.Lock()
	prev := s.value
	next, err := fn(prev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.value = next
	s.mu.Unlock()

	return s.topic.Publish(ctx, s.bus, Change[T]{Previous: prev, Current: next})
}

// updatingKey marks a context as running inside a Stateful's publish.
type updatingKey struct {
	state any
}
