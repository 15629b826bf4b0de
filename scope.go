package modkit

import (
	"errors"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScopeInstance is a bounded lifetime region owning the services constructed
// for it. The root scope holds singletons; screen scopes nest below it.
type ScopeInstance struct {
	id     string
	kind   Scope
	parent *ScopeInstance
	rt     *Runtime
	ctx    *ScopeContext
	alive  atomic.Bool

	mu       sync.Mutex
	children map[*ScopeInstance]struct{}

	// Guarded by rt.resolveMu.
	instances map[reflect.Type]any
	built     []reflect.Type
	bindings  []ActiveBinding
}

// ScopeOption configures a scope at open time.
type ScopeOption func(*ScopeInstance)

// WithScopeValue seeds a value on the scope context, visible to the scope
// and its descendants.
func WithScopeValue(key, val interface{}) ScopeOption {
	return func(s *ScopeInstance) {
		s.ctx.WithValue(key, val)
	}
}

func newScope(rt *Runtime, kind Scope, parent *ScopeInstance, ctx *ScopeContext) *ScopeInstance {
	s := &ScopeInstance{
		id:        uuid.NewString(),
		kind:      kind,
		parent:    parent,
		rt:        rt,
		ctx:       ctx,
		children:  make(map[*ScopeInstance]struct{}),
		instances: make(map[reflect.Type]any),
	}
	s.alive.Store(true)
	return s
}

func (s *ScopeInstance) ID() string               { return s.id }
func (s *ScopeInstance) Kind() Scope              { return s.kind }
func (s *ScopeInstance) Parent() *ScopeInstance   { return s.parent }
func (s *ScopeInstance) Context() *ScopeContext   { return s.ctx }
func (s *ScopeInstance) Value(key interface{}) any { return s.ctx.Value(key) }

// Alive reports whether the scope is still open. A nil scope is never alive.
func (s *ScopeInstance) Alive() bool {
	return s != nil && s.alive.Load()
}

// Resume runs fn only if the scope is still open. Completions of
// asynchronous work started by a scope's services re-enter through Resume so
// that they become no-ops once the scope has closed.
func (s *ScopeInstance) Resume(fn func()) bool {
	if !s.Alive() {
		return false
	}
	fn()
	return true
}

// Children returns the number of open child scopes.
func (s *ScopeInstance) Children() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// ChildScopes returns the open child scopes.
func (s *ScopeInstance) ChildScopes() []*ScopeInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := make([]*ScopeInstance, 0, len(s.children))
	for c := range s.children {
		children = append(children, c)
	}
	return children
}

// String implements fmt.Stringer.
func (s *ScopeInstance) String() string {
	return string(s.kind) + ":" + s.id
}

// Root returns the runtime's root scope, holding singleton services.
func (rt *Runtime) Root() *ScopeInstance {
	return rt.root
}

// OpenScope creates a screen scope below parent.
func (rt *Runtime) OpenScope(kind Scope, parent *ScopeInstance, opts ...ScopeOption) (*ScopeInstance, error) {
	if kind != ScopeScreen {
		return nil, &InvalidScopeError{Type: "scope", Scope: string(kind)}
	}
	if parent == nil {
		parent = rt.root
	}
	if parent.rt != rt {
		return nil, &ScopeHierarchyError{Scope: parent.String(), Reason: "parent belongs to another runtime"}
	}

	parent.mu.Lock()
	if !parent.Alive() {
		parent.mu.Unlock()
		return nil, &ScopeClosedError{Scope: parent.String()}
	}
	s := newScope(rt, kind, parent, parent.ctx.child())
	parent.children[s] = struct{}{}
	parent.mu.Unlock()

	for _, opt := range opts {
		opt(s)
	}
	rt.metrics.ScopeOpened()
	rt.logger.Debug("scope opened",
		zap.String("scope", s.id),
		zap.String("kind", string(kind)),
		zap.String("parent", parent.id))
	return s, nil
}

// owns reports a scope created by another runtime.
func (rt *Runtime) owns(s *ScopeInstance) error {
	if s.rt != rt {
		return &ScopeHierarchyError{Scope: s.String(), Reason: "scope does not belong to this runtime"}
	}
	return nil
}

// CloseScope tears down a scope. Child scopes must be closed first. The
// scope stops receiving events immediately; owned instances are shut down in
// reverse construction order, then its subscriptions and mediator bindings
// are removed. Shutdown failures are collected and returned together after
// every instance has been given the chance to shut down.
func (rt *Runtime) CloseScope(s *ScopeInstance) error {
	if s == nil {
		return &ScopeHierarchyError{Scope: "<nil>", Reason: "scope does not belong to this runtime"}
	}
	if err := rt.owns(s); err != nil {
		return err
	}

	s.mu.Lock()
	if n := len(s.children); n > 0 {
		s.mu.Unlock()
		return &ScopeHierarchyError{Scope: s.String(), Children: n}
	}
	if !s.alive.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return &ScopeClosedError{Scope: s.String()}
	}
	s.mu.Unlock()

	rt.resolveMu.Lock()
	built := slices.Clone(s.built)
	instances := s.instances
	s.instances = make(map[reflect.Type]any)
	s.built = nil
	s.bindings = nil
	rt.resolveMu.Unlock()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		inst := instances[built[i]]
		sd, ok := inst.(Shutdowner)
		if !ok {
			continue
		}
		if err := sd.OnShutdown(s.ctx); err != nil {
			errs = append(errs, &ShutdownError{Type: built[i].String(), Err: err})
			rt.logger.Warn("service shutdown failed",
				zap.String("scope", s.id),
				zap.String("type", built[i].String()),
				zap.Error(err))
		}
	}

	removed := rt.bus.removeOwner(s)
	s.ctx.close()

	if s.parent != nil {
		s.parent.mu.Lock()
		delete(s.parent.children, s)
		s.parent.mu.Unlock()
	}

	rt.metrics.ScopeClosed()
	rt.logger.Debug("scope closed",
		zap.String("scope", s.id),
		zap.String("kind", string(s.kind)),
		zap.Int("instances", len(built)),
		zap.Int("subscriptions", removed))
	return errors.Join(errs...)
}

// Shutdown closes every open scope leaf-first, ending with the root.
func (rt *Runtime) Shutdown() error {
	var errs []error
	var closeTree func(s *ScopeInstance)
	closeTree = func(s *ScopeInstance) {
		for _, c := range s.ChildScopes() {
			closeTree(c)
		}
		if !s.Alive() {
			return
		}
		if err := rt.CloseScope(s); err != nil {
			errs = append(errs, err)
		}
	}
	closeTree(rt.root)
	return errors.Join(errs...)
}
