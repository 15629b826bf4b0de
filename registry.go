package modkit

import (
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Factory constructs a service from its resolved dependencies.
type Factory func(deps *Deps) (any, error)

// Descriptor is the static description of how to construct a service.
// The registry keeps its own copy; mutating a Descriptor after Register has
// no effect.
type Descriptor struct {
	Type      reflect.Type
	Scope     Scope
	Role      Role
	DependsOn []reflect.Type
	Factory   Factory
	// Binding is required for RoleMediator descriptors.
	Binding *MediatorBinding
}

// Name returns the type identity as a string.
func (d Descriptor) Name() string {
	if d.Type == nil {
		return "<nil>"
	}
	return d.Type.String()
}

// As returns a copy of d with the given role.
func (d Descriptor) As(role Role) Descriptor {
	d.Role = role
	return d
}

// Mediates returns a copy of d declared as a mediator bridging source events
// to target operations. Source and target must both appear in DependsOn.
func (d Descriptor) Mediates(source, target reflect.Type, events ...EventKey) Descriptor {
	d.Role = RoleMediator
	d.Binding = &MediatorBinding{
		Source: source,
		Target: target,
		Events: slices.Clone(events),
	}
	return d
}

func (d Descriptor) clone() *Descriptor {
	c := d
	c.DependsOn = slices.Clone(d.DependsOn)
	if d.Binding != nil {
		b := *d.Binding
		b.Events = slices.Clone(d.Binding.Events)
		c.Binding = &b
	}
	return &c
}

// TypeOf returns the type identity used for T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Provide builds a descriptor for T. dependsOn lists, in construction order,
// the type identities the factory will read from Deps.
func Provide[T any](scope Scope, factory func(deps *Deps) (T, error), dependsOn ...reflect.Type) Descriptor {
	d := Descriptor{
		Type:      TypeOf[T](),
		Scope:     scope,
		Role:      RoleService,
		DependsOn: dependsOn,
	}
	if factory != nil {
		d.Factory = func(deps *Deps) (any, error) {
			return factory(deps)
		}
	}
	return d
}

// Registry is the catalog of service descriptors. It accepts registrations
// until Build succeeds and is read-only afterwards.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[reflect.Type]*Descriptor
	order       []reflect.Type
	topo        []reflect.Type
	built       bool
	logger      *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used during Build.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		descriptors: make(map[reflect.Type]*Descriptor, 32),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a descriptor.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == nil || d.Factory == nil {
		return &NilServiceError{Type: d.Name()}
	}
	if !d.Scope.valid() {
		return &InvalidScopeError{Type: d.Name(), Scope: string(d.Scope)}
	}
	if d.Role == "" {
		d.Role = RoleService
	}
	if d.Role == RolePresenter && d.Scope != ScopeScreen {
		return &InvalidScopeError{Type: d.Name(), Scope: string(d.Scope)}
	}
	if d.Role == RoleMediator && d.Scope == ScopeTransient {
		return &InvalidScopeError{Type: d.Name(), Scope: string(d.Scope)}
	}
	if d.Role == RoleMediator && d.Binding == nil {
		return &InvalidBindingError{Type: d.Name(), Reason: "mediator declared without a binding"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built {
		return &FrozenRegistryError{Type: d.Name()}
	}
	if _, exists := r.descriptors[d.Type]; exists {
		return &DuplicateRegistrationError{Type: d.Name()}
	}
	r.descriptors[d.Type] = d.clone()
	r.order = append(r.order, d.Type)
	return nil
}

// RegisterModules lets each module register its descriptors, stopping at the
// first error.
func (r *Registry) RegisterModules(mods ...Module) error {
	for _, m := range mods {
		if err := m.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// Build validates the descriptor graph and freezes the registry. On failure
// the registry stays unfrozen and nothing is partially built.
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built {
		return nil
	}

	if err := r.checkMissing(); err != nil {
		r.logger.Error("registry build failed", zap.Error(err))
		return err
	}
	topo, err := r.sortAndDetectCycles()
	if err != nil {
		r.logger.Error("registry build failed", zap.Error(err))
		return err
	}
	if err := r.checkScopes(); err != nil {
		r.logger.Error("registry build failed", zap.Error(err))
		return err
	}
	if err := r.checkBindings(); err != nil {
		r.logger.Error("registry build failed", zap.Error(err))
		return err
	}

	r.topo = topo
	r.built = true
	r.logger.Debug("registry built", zap.Int("descriptors", len(r.order)))
	return nil
}

func (r *Registry) checkMissing() error {
	for _, t := range r.order {
		d := r.descriptors[t]
		for _, dep := range d.DependsOn {
			if _, ok := r.descriptors[dep]; !ok {
				return &MissingDependencyError{Type: d.Name(), Missing: typeString(dep)}
			}
		}
	}
	return nil
}

// sortAndDetectCycles runs a depth-first walk in registration order. Nodes on
// the current path are "visiting"; reaching one again closes a cycle. The
// post-order of the walk is a dependency-first topological order.
func (r *Registry) sortAndDetectCycles() ([]reflect.Type, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[reflect.Type]int, len(r.order))
	topo := make([]reflect.Type, 0, len(r.order))
	var path []reflect.Type

	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			start := slices.Index(path, t)
			cycle := make([]string, 0, len(path)-start+1)
			for _, member := range path[start:] {
				cycle = append(cycle, member.String())
			}
			cycle = append(cycle, t.String())
			return &CyclicDependencyError{Cycle: cycle}
		}

		state[t] = visiting
		path = append(path, t)
		for _, dep := range r.descriptors[t].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[t] = done
		topo = append(topo, t)
		return nil
	}

	for _, t := range r.order {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

func (r *Registry) checkScopes() error {
	for _, t := range r.order {
		d := r.descriptors[t]
		for _, depType := range d.DependsOn {
			dep := r.descriptors[depType]
			if !dep.Scope.Outlives(d.Scope) {
				return &ScopeViolationError{
					Type:       d.Name(),
					Scope:      string(d.Scope),
					Dependency: dep.Name(),
					DepScope:   string(dep.Scope),
				}
			}
		}
	}
	return nil
}

func (r *Registry) checkBindings() error {
	for _, t := range r.order {
		d := r.descriptors[t]
		if d.Binding == nil {
			continue
		}
		b := d.Binding
		if b.Source == nil || b.Target == nil {
			return &InvalidBindingError{Type: d.Name(), Reason: "source and target are required"}
		}
		if b.Source == b.Target {
			return &InvalidBindingError{Type: d.Name(), Reason: "source and target must differ"}
		}
		if !slices.Contains(d.DependsOn, b.Source) {
			return &InvalidBindingError{Type: d.Name(), Reason: "source " + b.Source.String() + " is not a declared dependency"}
		}
		if !slices.Contains(d.DependsOn, b.Target) {
			return &InvalidBindingError{Type: d.Name(), Reason: "target " + b.Target.String() + " is not a declared dependency"}
		}
		if len(b.Events) == 0 {
			return &InvalidBindingError{Type: d.Name(), Reason: "no events declared"}
		}
	}
	return nil
}

// Built reports whether Build has succeeded.
func (r *Registry) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.built
}

// Descriptor returns a copy of the descriptor registered for t.
func (r *Registry) Descriptor(t reflect.Type) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[t]
	if !ok {
		return Descriptor{}, false
	}
	return *d.clone(), true
}

// Descriptors returns copies of all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, *r.descriptors[t].clone())
	}
	return out
}

// Order returns the dependency-first construction order computed by Build,
// or nil before Build.
func (r *Registry) Order() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.topo)
}

// lookup is used by the runtime after Build; the map is never written again.
func (r *Registry) lookup(t reflect.Type) (*Descriptor, bool) {
	d, ok := r.descriptors[t]
	return d, ok
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
