package modkit

import (
	"reflect"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Deps is handed to a factory (or to Injectable.Setup). It carries the
// resolved dependencies and binds event subscriptions to the scope that
// owns the instance under construction.
//
// Factories must not publish events or call Resolve; they run while the
// runtime holds its resolution lock.
type Deps struct {
	rt     *Runtime
	scope  *ScopeInstance
	desc   *Descriptor
	values map[reflect.Type]any
	subs   []*Subscription
}

func newDeps(rt *Runtime, scope *ScopeInstance, desc *Descriptor) *Deps {
	n := 0
	if desc != nil {
		n = len(desc.DependsOn)
	}
	return &Deps{
		rt:     rt,
		scope:  scope,
		desc:   desc,
		values: make(map[reflect.Type]any, n),
	}
}

// Get returns a resolved dependency. Only declared dependencies are available.
func (d *Deps) Get(t reflect.Type) (any, error) {
	v, ok := d.values[t]
	if !ok {
		return nil, &MissingDependencyError{Type: d.name(), Missing: typeString(t)}
	}
	return v, nil
}

// Dep returns the declared dependency of type T.
func Dep[T any](d *Deps) (T, error) {
	var zero T
	t := TypeOf[T]()
	v, err := d.Get(t)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{Expected: t.String(), Got: reflect.TypeOf(v).String()}
	}
	return typed, nil
}

// MustDep is like Dep but panics; the runtime turns the panic into an
// InitializationError for the service under construction.
func MustDep[T any](d *Deps) T {
	v, err := Dep[T](d)
	if err != nil {
		panic(err)
	}
	return v
}

// Scope returns the scope that will own the instance.
func (d *Deps) Scope() *ScopeInstance { return d.scope }

// Context returns the owning scope's context.
func (d *Deps) Context() *ScopeContext { return d.scope.ctx }

// Value looks up a scope value.
func (d *Deps) Value(key interface{}) any { return d.scope.ctx.Value(key) }

// Bus returns the runtime's event bus.
func (d *Deps) Bus() *Bus { return d.rt.bus }

// Settings returns the runtime's configuration values.
func (d *Deps) Settings() Settings { return d.rt.settings }

// Logger returns the runtime logger named after the service.
func (d *Deps) Logger() *zap.Logger {
	return d.rt.logger.Named(d.name())
}

// Subscribe registers handler for key, owned by the instance's scope. For a
// mediator, key must be one of the events declared in its binding.
func (d *Deps) Subscribe(key EventKey, handler Handler) (*Subscription, error) {
	mediator := ""
	if d.desc != nil && d.desc.Role == RoleMediator {
		mediator = d.desc.Name()
		if !slices.Contains(d.desc.Binding.Events, key) {
			return nil, &InvalidBindingError{Type: mediator, Reason: "event " + string(key) + " is not declared in the binding"}
		}
	}
	sub, err := d.rt.bus.subscribe(key, handler, d.scope, mediator)
	if err != nil {
		return nil, err
	}
	d.subs = append(d.subs, sub)
	return sub, nil
}

// release drops subscriptions made by a construction that failed.
func (d *Deps) release() {
	for _, sub := range d.subs {
		d.rt.bus.Unsubscribe(sub)
	}
	d.subs = nil
}

func (d *Deps) name() string {
	if d.desc == nil {
		return "injectable"
	}
	return d.desc.Name()
}

type emptySettings struct{}

func (emptySettings) Exists(string) bool            { return false }
func (emptySettings) Int(string) int                { return 0 }
func (emptySettings) String(string) string          { return "" }
func (emptySettings) Bool(string) bool              { return false }
func (emptySettings) Duration(string) time.Duration { return 0 }
