package modkit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/centraunit/modkit/metrics"
)

// EventKey identifies an event channel.
type EventKey string

// DefaultMaxPublishDepth bounds re-entrant publishing from inside handlers.
const DefaultMaxPublishDepth = 16

// Event is what handlers receive.
type Event struct {
	ID          string
	Key         EventKey
	Payload     any
	Depth       int
	PublishedAt time.Time
}

// Handler reacts to an event. A returned error (or a panic) is reported as a
// HandlerFailure and does not stop delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       string
	key      EventKey
	handler  Handler
	owner    *ScopeInstance
	mediator string
	active   atomic.Bool
}

func (s *Subscription) ID() string            { return s.id }
func (s *Subscription) Key() EventKey         { return s.key }
func (s *Subscription) Owner() *ScopeInstance { return s.owner }

// Active reports whether the subscription can still receive events: it has
// not been removed and its owning scope (if any) is open.
func (s *Subscription) Active() bool {
	if !s.active.Load() {
		return false
	}
	return s.owner == nil || s.owner.Alive()
}

// Bus is a synchronous publish/subscribe channel keyed by EventKey. The
// subscription table is the only structure shared across scopes; Publish
// iterates over a snapshot, so subscribing or unsubscribing during dispatch
// never corrupts the iteration. Handlers subscribed during a dispatch see
// only later events; handlers removed during a dispatch are skipped.
type Bus struct {
	mu       sync.RWMutex
	subs     map[EventKey][]*Subscription
	maxDepth int

	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	onFailure func(*HandlerFailure)
	now       func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

func WithBusLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithBusMetrics(m *metrics.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

func WithBusTracer(t trace.Tracer) BusOption {
	return func(b *Bus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithMaxPublishDepth limits nested publishing. Values below 1 are ignored.
func WithMaxPublishDepth(depth int) BusOption {
	return func(b *Bus) {
		if depth > 0 {
			b.maxDepth = depth
		}
	}
}

// WithFailureHandler receives every HandlerFailure, once, after it is logged.
func WithFailureHandler(fn func(*HandlerFailure)) BusOption {
	return func(b *Bus) { b.onFailure = fn }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:     make(map[EventKey][]*Subscription),
		maxDepth: DefaultMaxPublishDepth,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for key. owner may be nil, in which case the
// subscription lives until Unsubscribe.
func (b *Bus) Subscribe(key EventKey, handler Handler, owner *ScopeInstance) (*Subscription, error) {
	return b.subscribe(key, handler, owner, "")
}

func (b *Bus) subscribe(key EventKey, handler Handler, owner *ScopeInstance, mediator string) (*Subscription, error) {
	if handler == nil {
		return nil, &NilServiceError{Type: "handler for " + string(key)}
	}
	sub := &Subscription{
		id:       uuid.NewString(),
		key:      key,
		handler:  handler,
		owner:    owner,
		mediator: mediator,
	}
	sub.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	// Checked under the table lock so a concurrent scope close cannot miss
	// a subscription added after its sweep.
	if owner != nil && !owner.Alive() {
		return nil, &ScopeClosedError{Scope: owner.String()}
	}
	b.subs[key] = append(b.subs[key], sub)
	b.metrics.SubscriptionAdded()
	return sub, nil
}

// Unsubscribe removes sub. It reports whether the subscription was live.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil || !sub.active.CompareAndSwap(true, false) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.key]
	if i := slices.Index(list, sub); i >= 0 {
		list = slices.Delete(slices.Clone(list), i, i+1)
		if len(list) == 0 {
			delete(b.subs, sub.key)
		} else {
			b.subs[sub.key] = list
		}
	}
	b.metrics.SubscriptionRemoved(1)
	return true
}

// removeOwner drops every subscription owned by scope and returns how many
// were removed.
func (b *Bus) removeOwner(scope *ScopeInstance) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for key, list := range b.subs {
		kept := make([]*Subscription, 0, len(list))
		for _, sub := range list {
			if sub.owner == scope {
				sub.active.Store(false)
				removed++
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(b.subs, key)
		} else {
			b.subs[key] = kept
		}
	}
	b.metrics.SubscriptionRemoved(removed)
	return removed
}

// Subscribers returns the number of live subscriptions for key.
func (b *Bus) Subscribers(key EventKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs[key] {
		if sub.Active() {
			n++
		}
	}
	return n
}

// Publish delivers payload to every live subscription of key, synchronously
// and in subscription order. Handler failures are reported, never returned.
// With no subscribers the call is a no-op; nothing is buffered.
//
// Publishing from inside a handler is allowed. The nesting depth travels on
// ctx, so handlers must pass on the context they received; beyond the
// configured limit Publish returns a PublishDepthError without delivering.
func (b *Bus) Publish(ctx context.Context, key EventKey, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	depth := publishDepth(ctx) + 1
	if depth > b.maxDepth {
		err := &PublishDepthError{Event: key, Depth: depth, Max: b.maxDepth}
		b.logger.Warn("publish depth exceeded", zap.String("event", string(key)), zap.Int("depth", depth))
		return err
	}

	b.mu.RLock()
	snapshot := slices.Clone(b.subs[key])
	b.mu.RUnlock()

	b.metrics.Published(string(key))
	if len(snapshot) == 0 {
		return nil
	}

	ev := Event{
		ID:          uuid.NewString(),
		Key:         key,
		Payload:     payload,
		Depth:       depth,
		PublishedAt: b.now(),
	}
	ctx, span := b.tracer.Start(withPublishDepth(ctx, depth), "modkit.Publish", trace.WithAttributes(
		attribute.String("modkit.event", string(key)),
		attribute.Int("modkit.subscribers", len(snapshot)),
		attribute.Int("modkit.depth", depth),
	))
	defer span.End()

	for _, sub := range snapshot {
		if !sub.Active() {
			continue
		}
		b.dispatch(ctx, sub, ev)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.report(sub, ev, fmt.Errorf("%v", r), true)
		}
	}()
	if err := sub.handler(ctx, ev); err != nil {
		b.report(sub, ev, err, false)
		return
	}
	b.metrics.Delivered(string(ev.Key))
}

func (b *Bus) report(sub *Subscription, ev Event, err error, panicked bool) {
	failure := &HandlerFailure{
		Event:        ev.Key,
		Subscription: sub.id,
		Mediator:     sub.mediator,
		Panic:        panicked,
		Err:          err,
	}
	if sub.owner != nil {
		failure.Scope = sub.owner.id
	}
	b.metrics.HandlerFailed(string(ev.Key))
	b.logger.Error("event handler failed",
		zap.String("event", string(ev.Key)),
		zap.String("event_id", ev.ID),
		zap.String("subscription", sub.id),
		zap.String("mediator", sub.mediator),
		zap.Bool("panic", panicked),
		zap.Error(err))
	if b.onFailure != nil {
		b.onFailure(failure)
	}
}

type depthKey struct{}

func publishDepth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

func withPublishDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
