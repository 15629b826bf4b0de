package modkit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/centraunit/modkit/metrics"
)

const instrumentationName = "github.com/centraunit/modkit"

// Runtime owns the scope tree built on top of a frozen registry, and the
// event bus shared by every scope.
type Runtime struct {
	registry *Registry
	bus      *Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	settings Settings
	baseCtx  context.Context

	// resolveMu serialises resolution and guards every scope's instance map.
	resolveMu sync.Mutex
	root      *ScopeInstance
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger. The bus created by NewRuntime inherits it.
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithSettings exposes configuration values to factories through Deps.Settings.
func WithSettings(s Settings) Option {
	return func(rt *Runtime) { rt.settings = s }
}

// WithBus uses an existing bus instead of creating one.
func WithBus(b *Bus) Option {
	return func(rt *Runtime) { rt.bus = b }
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(rt *Runtime) {
		if t != nil {
			rt.tracer = t
		}
	}
}

// WithContext sets the parent context of the root scope.
func WithContext(ctx context.Context) Option {
	return func(rt *Runtime) {
		if ctx != nil {
			rt.baseCtx = ctx
		}
	}
}

// NewRuntime opens the root scope over a built registry.
func NewRuntime(reg *Registry, opts ...Option) (*Runtime, error) {
	if reg == nil || !reg.Built() {
		return nil, &NotBuiltError{}
	}
	rt := &Runtime{
		registry: reg,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		settings: emptySettings{},
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.bus == nil {
		rt.bus = NewBus(
			WithBusLogger(rt.logger),
			WithBusMetrics(rt.metrics),
			WithBusTracer(rt.tracer),
		)
	}
	if rt.settings == nil {
		rt.settings = emptySettings{}
	}

	rt.root = newScope(rt, ScopeSingleton, nil, NewScopeContext(rt.baseCtx))
	rt.metrics.ScopeOpened()
	rt.logger.Debug("root scope opened", zap.String("scope", rt.root.id))
	return rt, nil
}

// Bus returns the runtime's event bus.
func (rt *Runtime) Bus() *Bus { return rt.bus }

// Registry returns the frozen registry the runtime was built from.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *zap.Logger { return rt.logger }
