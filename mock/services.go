// Package mock holds service fixtures shared by the modkit test suites.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/centraunit/modkit"
)

// RequestIDKey is the scope value MockDB picks up at boot.
type RequestIDKey struct{}

// Core interfaces
type Database interface {
	modkit.Lifecycle
	Connect() error
	IsConnected() bool
	ContextValue(key interface{}) (interface{}, error)
}

type Cache interface {
	modkit.Lifecycle
	Get(key string) interface{}
	DB() Database
}

// Recorder collects lifecycle calls across services, in call order.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) Record(event string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Mock implementations
type MockDB struct {
	isConnected bool
	ctx         *modkit.ScopeContext
	RequestID   string
	Name        string
	Recorder    *Recorder
}

func (m *MockDB) Connect() error {
	return nil
}

func (m *MockDB) OnBoot(ctx *modkit.ScopeContext) error {
	m.isConnected = true
	m.ctx = ctx

	if reqID, ok := ctx.Value(RequestIDKey{}).(string); ok {
		m.RequestID = reqID
	}
	m.Recorder.Record("boot:" + m.label())
	return nil
}

func (m *MockDB) ContextValue(key interface{}) (interface{}, error) {
	if m.ctx == nil {
		return nil, fmt.Errorf("context is nil")
	}
	return m.ctx.Value(key), nil
}

func (m *MockDB) OnShutdown(ctx *modkit.ScopeContext) error {
	m.isConnected = false
	m.ctx = nil
	m.Recorder.Record("shutdown:" + m.label())
	return nil
}

func (m *MockDB) IsConnected() bool {
	return m.isConnected
}

func (m *MockDB) label() string {
	if m.Name != "" {
		return m.Name
	}
	return "db"
}

type MockCache struct {
	db       Database
	Recorder *Recorder
}

func (m *MockCache) Get(key string) interface{} {
	return nil
}

func (m *MockCache) DB() Database {
	return m.db
}

func (m *MockCache) OnBoot(ctx *modkit.ScopeContext) error {
	m.Recorder.Record("boot:cache")
	return nil
}

func (m *MockCache) OnShutdown(ctx *modkit.ScopeContext) error {
	m.Recorder.Record("shutdown:cache")
	return nil
}

// DatabaseDescriptor provides Database in scope, booting a fresh MockDB.
func DatabaseDescriptor(scope modkit.Scope, rec *Recorder) modkit.Descriptor {
	return modkit.Provide(scope, func(deps *modkit.Deps) (Database, error) {
		return &MockDB{Recorder: rec}, nil
	})
}

// CacheDescriptor provides Cache in scope, depending on Database.
func CacheDescriptor(scope modkit.Scope, rec *Recorder) modkit.Descriptor {
	return modkit.Provide(scope, func(deps *modkit.Deps) (Cache, error) {
		db, err := modkit.Dep[Database](deps)
		if err != nil {
			return nil, err
		}
		return &MockCache{db: db, Recorder: rec}, nil
	}, modkit.TypeOf[Database]())
}

// FailingDB fails at boot when ShouldFail is set.
type FailingDB struct {
	MockDB
	ShouldFail bool
}

func (f *FailingDB) OnBoot(ctx *modkit.ScopeContext) error {
	if f.ShouldFail {
		return fmt.Errorf("simulated boot failure")
	}
	return f.MockDB.OnBoot(ctx)
}

// ErrShutdown is returned by FailingShutdown.
var ErrShutdown = errors.New("simulated shutdown failure")

// FailingShutdown fails in OnShutdown.
type FailingShutdown struct {
	Recorder *Recorder
}

func (f *FailingShutdown) OnShutdown(ctx *modkit.ScopeContext) error {
	f.Recorder.Record("shutdown:failing")
	return ErrShutdown
}

// Circular dependency test types
type CircularService1 interface {
	Service2() CircularService2
}

type CircularService2 interface {
	Service1() CircularService1
}

type CircularImpl1 struct {
	svc2 CircularService2
}

func (i *CircularImpl1) Service2() CircularService2 { return i.svc2 }

type CircularImpl2 struct {
	svc1 CircularService1
}

func (i *CircularImpl2) Service1() CircularService1 { return i.svc1 }

// CircularDescriptors declares CircularService1 and CircularService2 as
// depending on each other.
func CircularDescriptors() []modkit.Descriptor {
	return []modkit.Descriptor{
		modkit.Provide(modkit.ScopeSingleton, func(deps *modkit.Deps) (CircularService1, error) {
			return &CircularImpl1{svc2: modkit.MustDep[CircularService2](deps)}, nil
		}, modkit.TypeOf[CircularService2]()),
		modkit.Provide(modkit.ScopeSingleton, func(deps *modkit.Deps) (CircularService2, error) {
			return &CircularImpl2{svc1: modkit.MustDep[CircularService1](deps)}, nil
		}, modkit.TypeOf[CircularService1]()),
	}
}

// Deep dependency chain: DeepService1 -> DeepService2 -> DeepService3.
type DeepService3 interface {
	Value() string
}

type DeepService2 interface {
	Service3() DeepService3
}

type DeepService1 interface {
	Service2() DeepService2
}

type DeepImpl3 struct {
	value string
}

func (d *DeepImpl3) OnBoot(ctx *modkit.ScopeContext) error {
	if d.value == "" {
		d.value = "deep"
	}
	return nil
}

func (d *DeepImpl3) Value() string { return d.value }

type DeepImpl2 struct {
	svc3 DeepService3
}

func (d *DeepImpl2) Service3() DeepService3 { return d.svc3 }

type DeepImpl1 struct {
	svc2 DeepService2
}

func (d *DeepImpl1) Service2() DeepService2 { return d.svc2 }

// DeepDescriptors declares the three-level chain in scope.
func DeepDescriptors(scope modkit.Scope) []modkit.Descriptor {
	return []modkit.Descriptor{
		modkit.Provide(scope, func(deps *modkit.Deps) (DeepService3, error) {
			return &DeepImpl3{}, nil
		}),
		modkit.Provide(scope, func(deps *modkit.Deps) (DeepService2, error) {
			svc3, err := modkit.Dep[DeepService3](deps)
			return &DeepImpl2{svc3: svc3}, err
		}, modkit.TypeOf[DeepService3]()),
		modkit.Provide(scope, func(deps *modkit.Deps) (DeepService1, error) {
			svc2, err := modkit.Dep[DeepService2](deps)
			return &DeepImpl1{svc2: svc2}, err
		}, modkit.TypeOf[DeepService2]()),
	}
}

// Changed is published by Counter.
const Changed modkit.EventKey = "counter.changed"

// Counter is a minimal stateful service.
type Counter struct {
	state *modkit.Stateful[int]
}

func (c *Counter) Increment(ctx context.Context) error {
	return c.state.Update(ctx, func(v int) (int, error) { return v + 1, nil })
}

func (c *Counter) Value() int { return c.state.Get() }

// CounterDescriptor provides *Counter as a singleton.
func CounterDescriptor() modkit.Descriptor {
	return modkit.StatefulService(modkit.ScopeSingleton, func(deps *modkit.Deps) (*Counter, error) {
		return &Counter{state: modkit.NewStateful(deps, Changed, 0)}, nil
	})
}

// Journal is the target a mediator writes to.
type Journal struct {
	mu      sync.Mutex
	entries []int
}

func (j *Journal) Write(v int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, v)
}

func (j *Journal) Entries() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]int(nil), j.entries...)
}

// JournalDescriptor provides *Journal in scope.
func JournalDescriptor(scope modkit.Scope) modkit.Descriptor {
	return modkit.Provide(scope, func(deps *modkit.Deps) (*Journal, error) {
		return &Journal{}, nil
	})
}

// LoggerMediator forwards Counter changes to the Journal.
type LoggerMediator struct {
	journal *Journal
	mu      sync.Mutex
	seen    []int
}

func (m *LoggerMediator) Seen() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.seen...)
}

// LoggerMediatorDescriptor provides *LoggerMediator in scope, bridging
// Counter to Journal. fail makes every reaction return an error.
func LoggerMediatorDescriptor(scope modkit.Scope, fail error) modkit.Descriptor {
	return modkit.Mediator(scope, func(deps *modkit.Deps) (*LoggerMediator, error) {
		counter := modkit.MustDep[*Counter](deps)
		m := &LoggerMediator{journal: modkit.MustDep[*Journal](deps)}
		_, err := counter.state.Topic().Listen(deps, func(ctx context.Context, c modkit.Change[int]) error {
			if fail != nil {
				return fail
			}
			m.mu.Lock()
			m.seen = append(m.seen, c.Current)
			m.mu.Unlock()
			m.journal.Write(c.Current)
			return nil
		})
		return m, err
	}, modkit.TypeOf[*Counter](), modkit.TypeOf[*Journal](), []modkit.EventKey{Changed})
}
