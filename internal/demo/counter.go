package demo

import (
	"context"
	"fmt"

	"github.com/centraunit/modkit"
)

// ErrLimitReached is returned by Increment when the next value would exceed
// the configured maximum.
var ErrLimitReached = modkit.NewUserError("limit_reached", "The counter has reached its limit.")

// CounterService owns the counter value. It announces every change on
// CounterChanged and knows nothing about who listens.
type CounterService struct {
	state  *modkit.Stateful[int]
	limits *LimitsService
}

func newCounterService(deps *modkit.Deps) (*CounterService, error) {
	limits, err := modkit.Dep[*LimitsService](deps)
	if err != nil {
		return nil, err
	}
	return &CounterService{
		state:  modkit.NewStateful(deps, CounterChanged, 0),
		limits: limits,
	}, nil
}

// Value returns the current count.
func (c *CounterService) Value() int {
	return c.state.Get()
}

// Changes is the typed channel the counter publishes on.
func (c *CounterService) Changes() modkit.Topic[modkit.Change[int]] {
	return c.state.Topic()
}

// Increment advances the counter by one step and returns the new value.
func (c *CounterService) Increment(ctx context.Context) (int, error) {
	var next int
	err := c.state.Update(ctx, func(current int) (int, error) {
		next = c.limits.Next(current)
		if !c.limits.Allows(next) {
			return current, ErrLimitReached
		}
		return next, nil
	})
	if err != nil {
		return c.Value(), err
	}
	return next, nil
}

// Add advances the counter by n, which may be negative.
func (c *CounterService) Add(ctx context.Context, n int) (int, error) {
	var next int
	err := c.state.Update(ctx, func(current int) (int, error) {
		next = current + n
		if next < 0 {
			return current, modkit.NewUserError("negative", fmt.Sprintf("Cannot go below zero (at %d).", current))
		}
		if !c.limits.Allows(next) {
			return current, ErrLimitReached
		}
		return next, nil
	})
	if err != nil {
		return c.Value(), err
	}
	return next, nil
}

// Reset sets the counter back to zero.
func (c *CounterService) Reset(ctx context.Context) error {
	return c.state.Set(ctx, 0)
}
