// Package demo is a small counter module wired through modkit. It is used
// by the modkit CLI and serves as an executable example of every service
// role: a Stateless limits policy, a Stateful counter, a Repository for the
// counter history, a Mediator recording changes into the history, and a
// screen-scoped Presenter.
package demo

import (
	"github.com/centraunit/modkit"
)

// CounterChanged is published by CounterService after every change.
const CounterChanged modkit.EventKey = "counter.changed"

// HistoryKey is the repository key the counter history is stored under.
const HistoryKey = "counter.history"

// Module registers the counter services.
type Module struct {
	// Store backs HistoryRepository. Nil means an in-memory store.
	Store modkit.Store[string, []int]
}

// Register implements modkit.Module.
func (m Module) Register(r *modkit.Registry) error {
	descriptors := []modkit.Descriptor{
		modkit.Stateless(modkit.ScopeSingleton, newLimitsService),
		modkit.StatefulService(modkit.ScopeSingleton, newCounterService,
			modkit.TypeOf[*LimitsService]()),
		modkit.Repository(modkit.ScopeSingleton, newHistoryRepository(m.Store)),
		modkit.Mediator(modkit.ScopeSingleton, newLoggerMediator,
			modkit.TypeOf[*CounterService](),
			modkit.TypeOf[*HistoryRepository](),
			[]modkit.EventKey{CounterChanged}),
		modkit.Presenter(newCounterPresenter,
			modkit.TypeOf[*CounterService](),
			modkit.TypeOf[*HistoryRepository](),
			modkit.TypeOf[*LimitsService]()),
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
