package modkit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraunit/modkit"
)

// newRegistry registers descs and builds the registry.
func newRegistry(t testing.TB, descs ...modkit.Descriptor) *modkit.Registry {
	t.Helper()
	reg := modkit.NewRegistry()
	for _, d := range descs {
		require.NoError(t, reg.Register(d), "register %s", d.Name())
	}
	require.NoError(t, reg.Build())
	return reg
}

// newRuntime builds a registry from descs and opens a runtime over it. The
// runtime is shut down when the test ends.
func newRuntime(t testing.TB, opts []modkit.Option, descs ...modkit.Descriptor) *modkit.Runtime {
	t.Helper()
	rt, err := modkit.NewRuntime(newRegistry(t, descs...), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func openScreen(t testing.TB, rt *modkit.Runtime, parent *modkit.ScopeInstance, opts ...modkit.ScopeOption) *modkit.ScopeInstance {
	t.Helper()
	s, err := rt.OpenScope(modkit.ScopeScreen, parent, opts...)
	require.NoError(t, err)
	return s
}

type (
	alpha struct{ n int }
	beta  struct{ a *alpha }
	gamma struct{ b *beta }
)

func provideAlpha(scope modkit.Scope) modkit.Descriptor {
	return modkit.Provide(scope, func(*modkit.Deps) (*alpha, error) { return &alpha{}, nil })
}

func provideBeta(scope modkit.Scope) modkit.Descriptor {
	return modkit.Provide(scope, func(deps *modkit.Deps) (*beta, error) {
		return &beta{a: modkit.MustDep[*alpha](deps)}, nil
	}, modkit.TypeOf[*alpha]())
}

func provideGamma(scope modkit.Scope) modkit.Descriptor {
	return modkit.Provide(scope, func(deps *modkit.Deps) (*gamma, error) {
		return &gamma{b: modkit.MustDep[*beta](deps)}, nil
	}, modkit.TypeOf[*beta]())
}
