package modkit

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when the key has no value. It is an
// expected outcome, not a failure.
var ErrNotFound = errors.New("not found")

// Store is the key-indexed storage façade behind repositories. Backends
// live in the repository package.
type Store[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, error)
	Put(ctx context.Context, key K, value V) error
	Remove(ctx context.Context, key K) error
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
