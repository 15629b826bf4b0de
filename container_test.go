package modkit_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/metrics"
	"github.com/centraunit/modkit/mock"
)

type ContainerTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *ContainerTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ContainerTestSuite) TestDeepDependencyResolution() {
	for _, scope := range []modkit.Scope{modkit.ScopeSingleton, modkit.ScopeScreen, modkit.ScopeTransient} {
		s.Run(string(scope), func() {
			rt := newRuntime(s.T(), nil, mock.DeepDescriptors(scope)...)
			screen := openScreen(s.T(), rt, nil)

			svc1, err := modkit.Resolve[mock.DeepService1](s.ctx, rt, screen)
			s.Require().NoError(err)
			s.Require().NotNil(svc1.Service2())
			s.Require().NotNil(svc1.Service2().Service3())
			s.Equal("deep", svc1.Service2().Service3().Value())
		})
	}
}

func (s *ContainerTestSuite) TestDependenciesBootFirst() {
	rec := &mock.Recorder{}
	rt := newRuntime(s.T(), nil,
		mock.DatabaseDescriptor(modkit.ScopeScreen, rec),
		mock.CacheDescriptor(modkit.ScopeScreen, rec),
	)
	screen := openScreen(s.T(), rt, nil)

	cache, err := modkit.Resolve[mock.Cache](s.ctx, rt, screen)
	s.Require().NoError(err)
	s.Equal([]string{"boot:db", "boot:cache"}, rec.Events())

	db, err := modkit.Resolve[mock.Database](s.ctx, rt, screen)
	s.Require().NoError(err)
	s.Same(db, cache.DB())
	s.True(db.IsConnected())
	s.Equal([]string{"boot:db", "boot:cache"}, rec.Events(), "no second construction")
}

func (s *ContainerTestSuite) TestScreenInstancesPerScope() {
	rt := newRuntime(s.T(), nil, mock.DatabaseDescriptor(modkit.ScopeScreen, nil))
	first := openScreen(s.T(), rt, nil)
	second := openScreen(s.T(), rt, nil)

	a1 := modkit.MustResolve[mock.Database](s.ctx, rt, first)
	a2 := modkit.MustResolve[mock.Database](s.ctx, rt, first)
	b := modkit.MustResolve[mock.Database](s.ctx, rt, second)

	s.Same(a1, a2)
	s.NotSame(a1, b)
}

func (s *ContainerTestSuite) TestNestedScreenUsesNearestScreen() {
	rt := newRuntime(s.T(), nil, mock.DatabaseDescriptor(modkit.ScopeScreen, nil))
	outer := openScreen(s.T(), rt, nil)
	inner := openScreen(s.T(), rt, outer)

	fromOuter := modkit.MustResolve[mock.Database](s.ctx, rt, outer)
	fromInner := modkit.MustResolve[mock.Database](s.ctx, rt, inner)
	s.NotSame(fromOuter, fromInner)
	s.Len(rt.Instances(inner), 1)
}

func (s *ContainerTestSuite) TestSingletonSharedAcrossScopes() {
	rt := newRuntime(s.T(), nil, mock.DatabaseDescriptor(modkit.ScopeSingleton, nil))
	first := openScreen(s.T(), rt, nil)
	second := openScreen(s.T(), rt, nil)

	a := modkit.MustResolve[mock.Database](s.ctx, rt, first)
	b := modkit.MustResolve[mock.Database](s.ctx, rt, second)
	c := modkit.MustResolve[mock.Database](s.ctx, rt, nil)

	s.Same(a, b)
	s.Same(a, c)
	s.Len(rt.Instances(rt.Root()), 1)
	s.Empty(rt.Instances(first))
}

func (s *ContainerTestSuite) TestTransientOwnedByRequester() {
	rt := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeTransient))
	first := openScreen(s.T(), rt, nil)
	second := openScreen(s.T(), rt, nil)

	a1 := modkit.MustResolve[*alpha](s.ctx, rt, first)
	a2 := modkit.MustResolve[*alpha](s.ctx, rt, first)
	b := modkit.MustResolve[*alpha](s.ctx, rt, second)
	root := modkit.MustResolve[*alpha](s.ctx, rt, nil)

	s.Same(a1, a2)
	s.NotSame(a1, b)
	s.NotSame(a1, root)
	s.Len(rt.Instances(first), 1)
	s.Len(rt.Instances(rt.Root()), 1)
}

func (s *ContainerTestSuite) TestScreenServiceFromRoot() {
	rt := newRuntime(s.T(), nil,
		provideAlpha(modkit.ScopeScreen),
		provideBeta(modkit.ScopeTransient),
	)

	_, err := modkit.Resolve[*alpha](s.ctx, rt, nil)
	var violation *modkit.ScopeViolationError
	s.Require().ErrorAs(err, &violation)
	s.Equal("singleton", violation.Scope)

	_, err = modkit.Resolve[*beta](s.ctx, rt, nil)
	s.ErrorAs(err, &violation, "a transient resolved from root cannot reach a screen dependency")
	s.Empty(rt.Instances(rt.Root()))
}

func (s *ContainerTestSuite) TestBootFailureIsNotMemoized() {
	fail := true
	calls := 0
	rt := newRuntime(s.T(), nil, modkit.Provide(modkit.ScopeSingleton, func(*modkit.Deps) (mock.Database, error) {
		calls++
		return &mock.FailingDB{ShouldFail: fail}, nil
	}))

	_, err := modkit.Resolve[mock.Database](s.ctx, rt, nil)
	var initErr *modkit.InitializationError
	s.Require().ErrorAs(err, &initErr)
	s.Equal("mock.Database", initErr.Type)
	s.Contains(err.Error(), "simulated boot failure")
	s.Empty(rt.Instances(rt.Root()))

	fail = false
	db, err := modkit.Resolve[mock.Database](s.ctx, rt, nil)
	s.Require().NoError(err)
	s.True(db.IsConnected())
	s.Equal(2, calls)
}

func (s *ContainerTestSuite) TestDependencyFailureLeavesBuiltDependencies() {
	alphaCalls := 0
	betaFails := true
	rt := newRuntime(s.T(), nil,
		modkit.Provide(modkit.ScopeSingleton, func(*modkit.Deps) (*alpha, error) {
			alphaCalls++
			return &alpha{n: alphaCalls}, nil
		}),
		modkit.Provide(modkit.ScopeSingleton, func(deps *modkit.Deps) (*beta, error) {
			if betaFails {
				return nil, errors.New("beta unavailable")
			}
			return &beta{a: modkit.MustDep[*alpha](deps)}, nil
		}, modkit.TypeOf[*alpha]()),
		provideGamma(modkit.ScopeSingleton),
	)

	_, err := modkit.Resolve[*gamma](s.ctx, rt, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "beta unavailable")
	s.Len(rt.Instances(rt.Root()), 1, "only alpha completed")

	betaFails = false
	g, err := modkit.Resolve[*gamma](s.ctx, rt, nil)
	s.Require().NoError(err)
	s.Equal(1, g.b.a.n)
	s.Equal(1, alphaCalls)
}

func (s *ContainerTestSuite) TestFactoryFailures() {
	tests := []struct {
		name    string
		factory func(*modkit.Deps) (*alpha, error)
		message string
	}{
		{"Error", func(*modkit.Deps) (*alpha, error) { return nil, errors.New("boom") }, "boom"},
		{"Panic", func(*modkit.Deps) (*alpha, error) { panic("kaboom") }, "panic: kaboom"},
		{"NilInstance", func(*modkit.Deps) (*alpha, error) { return nil, nil }, "factory returned nil"},
		{"UndeclaredDependency", func(deps *modkit.Deps) (*alpha, error) {
			return &alpha{n: modkit.MustDep[*beta](deps).a.n}, nil
		}, "unregistered type: *modkit_test.beta"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			rt := newRuntime(s.T(), nil, modkit.Provide(modkit.ScopeSingleton, tt.factory))

			_, err := modkit.Resolve[*alpha](s.ctx, rt, nil)
			var initErr *modkit.InitializationError
			s.Require().ErrorAs(err, &initErr)
			s.Contains(err.Error(), tt.message)
			s.Empty(rt.Instances(rt.Root()))
		})
	}
}

func (s *ContainerTestSuite) TestFactoryReturnsWrongType() {
	rt := newRuntime(s.T(), nil, modkit.Descriptor{
		Type:    modkit.TypeOf[*alpha](),
		Scope:   modkit.ScopeSingleton,
		Factory: func(*modkit.Deps) (any, error) { return &beta{}, nil },
	})

	_, err := rt.Resolve(s.ctx, modkit.TypeOf[*alpha](), nil)
	var mismatch *modkit.TypeMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Equal("*modkit_test.alpha", mismatch.Expected)
	s.Equal("*modkit_test.beta", mismatch.Got)
}

func (s *ContainerTestSuite) TestBindingNotFound() {
	rt := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeSingleton))

	_, err := modkit.Resolve[*beta](s.ctx, rt, nil)
	var notFound *modkit.BindingNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("no binding found for type: *modkit_test.beta", err.Error())

	s.Panics(func() { modkit.MustResolve[*beta](s.ctx, rt, nil) })
}

func (s *ContainerTestSuite) TestResolveInClosedScope() {
	rt := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeScreen))
	screen := openScreen(s.T(), rt, nil)
	s.Require().NoError(rt.CloseScope(screen))

	_, err := modkit.Resolve[*alpha](s.ctx, rt, screen)
	var closed *modkit.ScopeClosedError
	s.ErrorAs(err, &closed)
}

func (s *ContainerTestSuite) TestScopeFromAnotherRuntime() {
	rt := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeScreen))
	other := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeScreen))
	foreign := openScreen(s.T(), other, nil)

	var hierarchy *modkit.ScopeHierarchyError
	_, err := modkit.Resolve[*alpha](s.ctx, rt, foreign)
	s.Require().ErrorAs(err, &hierarchy)
	s.Equal(foreign.String(), hierarchy.Scope)
	s.Empty(other.Instances(foreign), "nothing is constructed in the foreign scope")

	s.ErrorAs(rt.Inject(s.ctx, foreign, &greeter{}), &hierarchy)
	s.ErrorAs(rt.StartMediators(s.ctx, foreign), &hierarchy)
	s.ErrorAs(rt.CloseScope(foreign), &hierarchy)
	s.True(foreign.Alive())
}

func (s *ContainerTestSuite) TestScopeValues() {
	type tenantKey struct{}
	base := context.WithValue(context.Background(), tenantKey{}, "acme")
	rt := newRuntime(s.T(), []modkit.Option{modkit.WithContext(base)},
		mock.DatabaseDescriptor(modkit.ScopeScreen, nil))

	screen := openScreen(s.T(), rt, nil, modkit.WithScopeValue(mock.RequestIDKey{}, "req-42"))
	nested := openScreen(s.T(), rt, screen)

	db := modkit.MustResolve[mock.Database](s.ctx, rt, screen)
	s.Equal("req-42", db.(*mock.MockDB).RequestID)

	v, err := db.ContextValue(tenantKey{})
	s.Require().NoError(err)
	s.Equal("acme", v, "values of the runtime context are visible to every scope")

	s.Equal("req-42", nested.Value(mock.RequestIDKey{}), "descendants inherit scope values")
	nested.Context().WithValue(mock.RequestIDKey{}, "req-43")
	s.Equal("req-43", nested.Value(mock.RequestIDKey{}))
	s.Equal("req-42", screen.Value(mock.RequestIDKey{}), "a child value never leaks upwards")

	values := nested.Context().Values()
	s.Equal("req-43", values[mock.RequestIDKey{}])
	s.Nil(rt.Root().Value(mock.RequestIDKey{}))
}

type greeter struct {
	a   *alpha
	got []modkit.EventKey
}

func (g *greeter) Requires() []reflect.Type {
	return []reflect.Type{modkit.TypeOf[*alpha]()}
}

func (g *greeter) Setup(deps *modkit.Deps) error {
	a, err := modkit.Dep[*alpha](deps)
	if err != nil {
		return err
	}
	g.a = a
	_, err = deps.Subscribe("greet", func(_ context.Context, ev modkit.Event) error {
		g.got = append(g.got, ev.Key)
		return nil
	})
	return err
}

type brokenInjectable struct{}

func (brokenInjectable) Requires() []reflect.Type { return nil }
func (brokenInjectable) Setup(*modkit.Deps) error { return errors.New("setup failed") }

func (s *ContainerTestSuite) TestInject() {
	rt := newRuntime(s.T(), nil, provideAlpha(modkit.ScopeSingleton))
	screen := openScreen(s.T(), rt, nil)

	g := &greeter{}
	s.Require().NoError(rt.Inject(s.ctx, screen, g))
	s.Same(modkit.MustResolve[*alpha](s.ctx, rt, nil), g.a)

	s.Require().NoError(rt.Bus().Publish(s.ctx, "greet", nil))
	s.Equal([]modkit.EventKey{"greet"}, g.got)

	s.Require().NoError(rt.CloseScope(screen))
	s.Require().NoError(rt.Bus().Publish(s.ctx, "greet", nil))
	s.Len(g.got, 1, "subscriptions made in Setup are owned by the scope")

	var nilErr *modkit.NilServiceError
	s.ErrorAs(rt.Inject(s.ctx, nil, nil), &nilErr)

	var initErr *modkit.InitializationError
	s.ErrorAs(rt.Inject(s.ctx, nil, brokenInjectable{}), &initErr)
}

func (s *ContainerTestSuite) TestResolveSpans() {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	s.T().Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rt := newRuntime(s.T(), []modkit.Option{modkit.WithTracer(tp.Tracer("test"))}, provideAlpha(modkit.ScopeSingleton))

	_, err := modkit.Resolve[*alpha](s.ctx, rt, nil)
	s.Require().NoError(err)
	_, err = modkit.Resolve[*beta](s.ctx, rt, nil)
	s.Require().Error(err)

	spans := recorder.Ended()
	s.Require().Len(spans, 2)
	s.Equal("modkit.Resolve", spans[0].Name())
	s.Contains(spans[0].Attributes(), attribute.String("modkit.type", "*modkit_test.alpha"))
	s.Equal(codes.Unset, spans[0].Status().Code)
	s.Equal(codes.Error, spans[1].Status().Code)
}

func (s *ContainerTestSuite) TestResolveMetrics() {
	m, err := metrics.New(prometheus.NewRegistry(), "test")
	s.Require().NoError(err)
	rt := newRuntime(s.T(), []modkit.Option{modkit.WithMetrics(m)},
		provideAlpha(modkit.ScopeSingleton),
		provideBeta(modkit.ScopeScreen).As(modkit.RoleStateless),
	)
	screen := openScreen(s.T(), rt, nil)

	modkit.MustResolve[*beta](s.ctx, rt, screen)
	modkit.MustResolve[*beta](s.ctx, rt, screen)
	_, _ = modkit.Resolve[*gamma](s.ctx, rt, screen)

	s.Equal(1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("screen", "constructed")))
	s.Equal(1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("screen", "hit")))
	s.Equal(1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("singleton", "constructed")))
	s.Equal(1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("screen", "error")))
	s.Equal(1.0, testutil.ToFloat64(m.Constructions.WithLabelValues("stateless")))
	s.Equal(2.0, testutil.ToFloat64(m.OpenScopes))
}

func TestContainerTestSuite(t *testing.T) {
	suite.Run(t, new(ContainerTestSuite))
}
