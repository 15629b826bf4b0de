package demo

import (
	"context"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/natsbridge"
)

// Subjects used by ServeRemote, relative to the bridge prefix.
const (
	SubjectAdd     = "counter.add"
	SubjectChanged = "counter.changed"
)

// AddCommand is the body of a counter.add request.
type AddCommand struct {
	By int `json:"by"`
}

// AddResult is the reply to a counter.add request.
type AddResult struct {
	Value int `json:"value"`
}

// ServeRemote exposes the counter on NATS: counter.add requests are applied
// to the counter, and every change is forwarded on counter.changed. Both
// end when owner closes.
func ServeRemote(ctx context.Context, rt *modkit.Runtime, b *natsbridge.Bridge, owner *modkit.ScopeInstance) error {
	counter, err := modkit.Resolve[*CounterService](ctx, rt, owner)
	if err != nil {
		return err
	}
	if _, err := b.Forward(CounterChanged, SubjectChanged, owner); err != nil {
		return err
	}
	_, err = natsbridge.HandleCommand(b, SubjectAdd, owner, func(ctx context.Context, cmd AddCommand) (any, error) {
		v, err := counter.Add(ctx, cmd.By)
		if err != nil {
			return nil, err
		}
		return AddResult{Value: v}, nil
	})
	return err
}
