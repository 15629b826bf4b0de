package modkit

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Resolve returns the instance of t visible from scope, constructing it and
// any unconstructed dependencies on first request. Construction follows a
// depth-first walk over DependsOn in declared order. A nil scope means the
// root scope.
func (rt *Runtime) Resolve(ctx context.Context, t reflect.Type, scope *ScopeInstance) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if scope == nil {
		scope = rt.root
	}
	if err := rt.owns(scope); err != nil {
		return nil, err
	}
	ctx, span := rt.tracer.Start(ctx, "modkit.Resolve", trace.WithAttributes(
		attribute.String("modkit.type", typeString(t)),
		attribute.String("modkit.scope", scope.String()),
	))
	defer span.End()

	rt.resolveMu.Lock()
	instance, err := rt.resolve(t, scope)
	rt.resolveMu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rt.metrics.Resolved(string(scope.kind), "error")
		rt.logger.Debug("resolve failed",
			zap.String("type", typeString(t)),
			zap.String("scope", scope.id),
			zap.Error(err))
		return nil, err
	}
	return instance, nil
}

// Resolve is the typed form of Runtime.Resolve.
func Resolve[T any](ctx context.Context, rt *Runtime, scope *ScopeInstance) (T, error) {
	var zero T
	serviceType := TypeOf[T]()
	instance, err := rt.Resolve(ctx, serviceType, scope)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, &TypeMismatchError{Expected: serviceType.String(), Got: reflect.TypeOf(instance).String()}
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on error. Intended for wiring code
// at startup, after Build has validated the graph.
func MustResolve[T any](ctx context.Context, rt *Runtime, scope *ScopeInstance) T {
	v, err := Resolve[T](ctx, rt, scope)
	if err != nil {
		panic(err)
	}
	return v
}

// resolve walks DependsOn depth-first. Build has rejected cycles, and a
// factory can only read declared dependencies, so the walk terminates.
func (rt *Runtime) resolve(t reflect.Type, requester *ScopeInstance) (any, error) {
	if !requester.Alive() {
		return nil, &ScopeClosedError{Scope: requester.String()}
	}
	d, ok := rt.registry.lookup(t)
	if !ok {
		return nil, &BindingNotFoundError{Type: typeString(t)}
	}
	owner, err := rt.place(d, requester)
	if err != nil {
		return nil, err
	}
	if instance, ok := owner.instances[t]; ok {
		rt.metrics.Resolved(string(owner.kind), "hit")
		return instance, nil
	}

	deps := newDeps(rt, owner, d)
	for _, depType := range d.DependsOn {
		dep, err := rt.resolve(depType, owner)
		if err != nil {
			return nil, err
		}
		deps.values[depType] = dep
	}

	instance, err := rt.construct(d, deps)
	if err != nil {
		deps.release()
		return nil, err
	}

	owner.instances[t] = instance
	owner.built = append(owner.built, t)
	if d.Binding != nil {
		owner.bindings = append(owner.bindings, ActiveBinding{
			Mediator:        d.Name(),
			Scope:           owner.id,
			MediatorBinding: *d.Binding,
		})
	}

	rt.metrics.Resolved(string(owner.kind), "constructed")
	rt.metrics.Constructed(d.Role.String())
	rt.logger.Debug("service constructed",
		zap.String("type", d.Name()),
		zap.String("role", d.Role.String()),
		zap.String("scope", owner.id),
		zap.Int("subscriptions", len(deps.subs)))
	return instance, nil
}

// construct runs the factory and the boot hook. Panics in either are
// converted into InitializationError.
func (rt *Runtime) construct(d *Descriptor, deps *Deps) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = &InitializationError{Type: d.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	instance, err = d.Factory(deps)
	if err != nil {
		return nil, &InitializationError{Type: d.Name(), Err: err}
	}
	if isNil(instance) {
		return nil, &InitializationError{Type: d.Name(), Err: errors.New("factory returned nil")}
	}
	if !reflect.TypeOf(instance).AssignableTo(d.Type) {
		return nil, &TypeMismatchError{Expected: d.Name(), Got: reflect.TypeOf(instance).String()}
	}
	if b, ok := instance.(Booter); ok {
		if err := b.OnBoot(deps.scope.ctx); err != nil {
			return nil, &InitializationError{Type: d.Name(), Err: err}
		}
	}
	return instance, nil
}

// place picks the scope that owns instances of d when requested from
// requester: the root for singletons, the nearest screen scope for screen
// services, and the requester itself for transients.
func (rt *Runtime) place(d *Descriptor, requester *ScopeInstance) (*ScopeInstance, error) {
	switch d.Scope {
	case ScopeSingleton:
		return rt.root, nil
	case ScopeScreen:
		for s := requester; s != nil; s = s.parent {
			if s.kind == ScopeScreen {
				return s, nil
			}
		}
		return nil, &ScopeViolationError{
			Type:     d.Name(),
			Scope:    string(requester.kind),
			DepScope: string(d.Scope),
		}
	case ScopeTransient:
		return requester, nil
	}
	return nil, &InvalidScopeError{Type: d.Name(), Scope: string(d.Scope)}
}

// Inject performs the second phase of two-phase construction for an object
// allocated outside the container: its required types are resolved from
// scope, then Setup receives them. Subscriptions made in Setup are owned by
// scope.
func (rt *Runtime) Inject(ctx context.Context, scope *ScopeInstance, target Injectable) error {
	if target == nil || isNil(target) {
		return &NilServiceError{Type: "injectable"}
	}
	if scope == nil {
		scope = rt.root
	}
	if err := rt.owns(scope); err != nil {
		return err
	}
	name := reflect.TypeOf(target).String()
	deps := newDeps(rt, scope, nil)
	for _, t := range target.Requires() {
		instance, err := rt.Resolve(ctx, t, scope)
		if err != nil {
			return &InitializationError{Type: name, Err: err}
		}
		deps.values[t] = instance
	}
	if err := target.Setup(deps); err != nil {
		deps.release()
		return &InitializationError{Type: name, Err: err}
	}
	return nil
}

// Instances returns the type identities constructed in scope, in
// construction order.
func (rt *Runtime) Instances(scope *ScopeInstance) []reflect.Type {
	rt.resolveMu.Lock()
	defer rt.resolveMu.Unlock()
	out := make([]reflect.Type, len(scope.built))
	copy(out, scope.built)
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
