package modkit

import (
	"reflect"
)

// Stateless builds a descriptor for a pure operation provider.
func Stateless[T any](scope Scope, factory func(deps *Deps) (T, error), dependsOn ...reflect.Type) Descriptor {
	return Provide(scope, factory, dependsOn...).As(RoleStateless)
}

// StatefulService builds a descriptor for a service owning mutable state.
func StatefulService[T any](scope Scope, factory func(deps *Deps) (T, error), dependsOn ...reflect.Type) Descriptor {
	return Provide(scope, factory, dependsOn...).As(RoleStateful)
}

// Presenter builds a screen-scoped presenter descriptor.
func Presenter[T any](factory func(deps *Deps) (T, error), dependsOn ...reflect.Type) Descriptor {
	return Provide(ScopeScreen, factory, dependsOn...).As(RolePresenter)
}

// Repository builds a repository descriptor.
func Repository[T any](scope Scope, factory func(deps *Deps) (T, error), dependsOn ...reflect.Type) Descriptor {
	return Provide(scope, factory, dependsOn...).As(RoleRepository)
}
