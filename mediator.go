package modkit

import (
	"context"
	"reflect"
)

// MediatorBinding declares which service's events a mediator listens to and
// which service it acts on. Neither side references the mediator.
type MediatorBinding struct {
	Source reflect.Type
	Target reflect.Type
	Events []EventKey
}

// ActiveBinding is a MediatorBinding whose mediator has been constructed. It
// lives exactly as long as the scope owning the mediator, which by the
// lifetime rules never outlives the source or the target.
type ActiveBinding struct {
	MediatorBinding
	Mediator string
	Scope    string
}

// Mediator builds a descriptor for a mediator of type T bridging source to
// target. Both are added to the dependency list ahead of any extra
// dependencies.
func Mediator[T any](scope Scope, factory func(deps *Deps) (T, error), source, target reflect.Type, events []EventKey, extra ...reflect.Type) Descriptor {
	deps := append([]reflect.Type{source, target}, extra...)
	return Provide(scope, factory, deps...).Mediates(source, target, events...)
}

// Bindings returns every live mediator binding, root scope first.
func (rt *Runtime) Bindings() []ActiveBinding {
	rt.resolveMu.Lock()
	defer rt.resolveMu.Unlock()
	var out []ActiveBinding
	var walk func(s *ScopeInstance)
	walk = func(s *ScopeInstance) {
		out = append(out, s.bindings...)
		for _, c := range s.ChildScopes() {
			walk(c)
		}
	}
	walk(rt.root)
	return out
}

// StartMediators constructs the mediators that scope owns: singleton
// mediators for the root scope, screen mediators for a screen scope. A
// mediator only receives events once constructed, so call this after
// opening a scope and before its services start publishing.
func (rt *Runtime) StartMediators(ctx context.Context, scope *ScopeInstance) error {
	if scope == nil {
		scope = rt.root
	}
	if err := rt.owns(scope); err != nil {
		return err
	}
	for _, t := range rt.registry.Order() {
		d, ok := rt.registry.lookup(t)
		if !ok || d.Role != RoleMediator || d.Scope != scope.kind {
			continue
		}
		if _, err := rt.Resolve(ctx, t, scope); err != nil {
			return err
		}
	}
	return nil
}

// Start constructs the singleton mediators.
func (rt *Runtime) Start(ctx context.Context) error {
	return rt.StartMediators(ctx, rt.root)
}
