package modkit

import (
	"fmt"
	"strings"
)

// DuplicateRegistrationError is returned when a type identity is registered twice.
type DuplicateRegistrationError struct {
	Type string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("duplicate registration for type: %s", e.Type)
}

// CyclicDependencyError reports a dependency cycle. Cycle lists the members in
// walk order; the first member is repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// Contains reports whether typeName is a member of the cycle.
func (e *CyclicDependencyError) Contains(typeName string) bool {
	for _, member := range e.Cycle {
		if member == typeName {
			return true
		}
	}
	return false
}

// MissingDependencyError represents a declared dependency with no registration.
type MissingDependencyError struct {
	Type    string
	Missing string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("type %s depends on unregistered type: %s", e.Type, e.Missing)
}

// ScopeViolationError is returned when a service would outlive one of its
// dependencies, or when a service cannot be placed from the resolving scope.
type ScopeViolationError struct {
	Type       string
	Scope      string
	Dependency string
	DepScope   string
}

func (e *ScopeViolationError) Error() string {
	if e.Dependency == "" {
		return fmt.Sprintf("scope violation: %s service %s cannot be resolved from %s scope", e.DepScope, e.Type, e.Scope)
	}
	return fmt.Sprintf("scope violation: %s service %s depends on %s service %s", e.Scope, e.Type, e.DepScope, e.Dependency)
}

// ScopeHierarchyError is returned when closing a scope that still has open children.
type ScopeHierarchyError struct {
	Scope    string
	Children int
	Reason   string
}

func (e *ScopeHierarchyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("scope hierarchy error for %s: %s", e.Scope, e.Reason)
	}
	return fmt.Sprintf("scope %s has %d open child scope(s)", e.Scope, e.Children)
}

// ScopeClosedError represents an operation against a scope that has ended.
type ScopeClosedError struct {
	Scope string
}

func (e *ScopeClosedError) Error() string {
	return fmt.Sprintf("scope is closed: %s", e.Scope)
}

// InvalidBindingError represents a mediator binding that does not match the
// mediator's declared dependencies.
type InvalidBindingError struct {
	Type   string
	Reason string
}

func (e *InvalidBindingError) Error() string {
	return fmt.Sprintf("invalid mediator binding for type %s: %s", e.Type, e.Reason)
}

// FrozenRegistryError is returned when registering after Build.
type FrozenRegistryError struct {
	Type string
}

func (e *FrozenRegistryError) Error() string {
	return fmt.Sprintf("registry is frozen, cannot register type: %s", e.Type)
}

// NotBuiltError is returned when a runtime is created from an unbuilt registry.
type NotBuiltError struct{}

func (e *NotBuiltError) Error() string {
	return "registry has not been built"
}

// BindingNotFoundError represents a missing binding error.
type BindingNotFoundError struct {
	Type string
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("no binding found for type: %s", e.Type)
}

// NilServiceError represents an attempt to register a descriptor without a type or factory.
type NilServiceError struct {
	Type string
}

func (e *NilServiceError) Error() string {
	return fmt.Sprintf("nil service provided for type: %s", e.Type)
}

// InitializationError represents a service construction or boot failure.
type InitializationError struct {
	Type string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed for type %s: %v", e.Type, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// TypeMismatchError represents a type assertion failure.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ShutdownError represents a service shutdown failure.
type ShutdownError struct {
	Type string
	Err  error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown failed for type %s: %v", e.Type, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// InvalidScopeError represents an invalid scope usage.
type InvalidScopeError struct {
	Type  string
	Scope string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope %s for type %s", e.Scope, e.Type)
}

// HandlerFailure is a failure raised by a single subscriber during Publish.
// It is reported by the bus and never returned to the publisher.
type HandlerFailure struct {
	Event        EventKey
	Subscription string
	Scope        string
	// Mediator is set when the failing handler belongs to a mediator.
	Mediator string
	Panic    bool
	Err      error
}

func (e *HandlerFailure) Error() string {
	who := "subscriber " + e.Subscription
	if e.Mediator != "" {
		who = "mediator " + e.Mediator
	}
	if e.Panic {
		return fmt.Sprintf("%s panicked handling %s: %v", who, e.Event, e.Err)
	}
	return fmt.Sprintf("%s failed handling %s: %v", who, e.Event, e.Err)
}

func (e *HandlerFailure) Unwrap() error {
	return e.Err
}

// PublishDepthError is returned when nested publishes exceed the configured depth.
type PublishDepthError struct {
	Event EventKey
	Depth int
	Max   int
}

func (e *PublishDepthError) Error() string {
	return fmt.Sprintf("publish depth %d exceeds limit %d for event %s", e.Depth, e.Max, e.Event)
}
