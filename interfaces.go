// Package modkit provides a service composition runtime: a scoped dependency
// injection container, a synchronous event bus and mediator wiring for
// modules that must not reference each other directly.
package modkit

import (
	"reflect"
	"time"
)

// Booter is implemented by services that need initialization after construction.
type Booter interface {
	// OnBoot is called once, after the factory returns and before Resolve
	// hands the instance out. It receives the owning scope's context.
	OnBoot(ctx *ScopeContext) error
}

// Shutdowner is implemented by services that hold resources.
type Shutdowner interface {
	// OnShutdown is called when the owning scope closes, in reverse
	// construction order.
	OnShutdown(ctx *ScopeContext) error
}

// Lifecycle combines both hooks.
type Lifecycle interface {
	Booter
	Shutdowner
}

// Module contributes descriptors to a registry. Modules replace
// attribute-style discovery with an explicit registration table.
type Module interface {
	Register(r *Registry) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(r *Registry) error

func (f ModuleFunc) Register(r *Registry) error { return f(r) }

// Settings exposes immutable configuration values to factories.
// *koanf.Koanf satisfies it.
type Settings interface {
	Exists(path string) bool
	Int(path string) int
	String(path string) string
	Bool(path string) bool
	Duration(path string) time.Duration
}

// Scope defines the lifetime and sharing behavior of a service.
type Scope string

// Available service scopes
const (
	// ScopeSingleton shares a single instance across the application (root scope).
	ScopeSingleton Scope = "singleton"
	// ScopeScreen shares an instance within the nearest screen scope.
	ScopeScreen Scope = "screen"
	// ScopeTransient belongs to whichever scope resolves it.
	ScopeTransient Scope = "transient"
)

// width orders scopes by lifetime; wider scopes outlive narrower ones.
func (s Scope) width() int {
	switch s {
	case ScopeSingleton:
		return 2
	case ScopeScreen:
		return 1
	case ScopeTransient:
		return 0
	}
	return -1
}

func (s Scope) valid() bool { return s.width() >= 0 }

// Outlives reports whether a service of scope s may be depended on by a
// service of scope other.
func (s Scope) Outlives(other Scope) bool {
	return s.width() >= other.width()
}

// Role identifies what a service is for. Roles carry validation rules but
// do not change how a service is constructed.
type Role string

const (
	RoleService    Role = "service"
	RoleStateless  Role = "stateless"
	RoleStateful   Role = "stateful"
	RoleRepository Role = "repository"
	RolePresenter  Role = "presenter"
	RoleMediator   Role = "mediator"
)

func (r Role) String() string {
	if r == "" {
		return string(RoleService)
	}
	return string(r)
}

// Injectable is implemented by objects allocated outside the container, for
// example by a UI host. The runtime resolves Requires() and then calls Setup;
// no other method of the object may run before Setup returns.
type Injectable interface {
	Requires() []reflect.Type
	Setup(deps *Deps) error
}
