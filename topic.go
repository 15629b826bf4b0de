package modkit

import (
	"context"
	"reflect"
)

// Topic is a typed view of an event key. Publishing through a Topic fixes
// the payload type; subscribing through it decodes the payload and reports a
// TypeMismatchError failure if someone published a different type on the
// same key.
type Topic[T any] struct {
	key EventKey
}

// NewTopic returns the typed channel for key.
func NewTopic[T any](key EventKey) Topic[T] {
	return Topic[T]{key: key}
}

func (t Topic[T]) Key() EventKey { return t.key }

// Publish sends payload on the topic.
func (t Topic[T]) Publish(ctx context.Context, bus *Bus, payload T) error {
	return bus.Publish(ctx, t.key, payload)
}

// Subscribe registers fn on bus, owned by owner.
func (t Topic[T]) Subscribe(bus *Bus, owner *ScopeInstance, fn func(ctx context.Context, payload T) error) (*Subscription, error) {
	return bus.Subscribe(t.key, t.handler(fn), owner)
}

// Listen registers fn through a factory's Deps, so the subscription is owned
// by the scope of the service under construction.
func (t Topic[T]) Listen(deps *Deps, fn func(ctx context.Context, payload T) error) (*Subscription, error) {
	return deps.Subscribe(t.key, t.handler(fn))
}

func (t Topic[T]) handler(fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, ev Event) error {
		payload, ok := ev.Payload.(T)
		if !ok {
			got := "<nil>"
			if ev.Payload != nil {
				got = reflect.TypeOf(ev.Payload).String()
			}
			return &TypeMismatchError{Expected: TypeOf[T]().String(), Got: got}
		}
		return fn(ctx, payload)
	}
}
