// Package natsbridge connects a modkit Bus to NATS.
//
// Outbound, Forward relays local events to a subject as JSON envelopes.
// Inbound, Relay republishes remote envelopes on the local bus and
// HandleCommand decodes command messages into typed values and hands them
// to a resolved service. Every subscription is tied to an owning scope:
// deliveries go through ScopeInstance.Resume, so they are dropped once the
// scope has closed, and the NATS subscription is drained when the scope's
// context is cancelled.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/centraunit/modkit"
)

// Envelope is the wire form of a bus event.
type Envelope struct {
	ID          string          `json:"id"`
	Event       string          `json:"event"`
	Origin      string          `json:"origin"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
}

// Reply is sent back to command requesters that set a reply subject.
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Bridge relays events and commands between a Bus and a NATS connection.
type Bridge struct {
	nc      *nats.Conn
	bus     *modkit.Bus
	id      string
	prefix  string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool

	// done is closed by Close and ends the scope watchers.
	done     chan struct{}
	watchers sync.WaitGroup
	watching atomic.Int32
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSubjectPrefix prepends prefix to every subject passed to the bridge.
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// WithTimeout bounds command handling and requests. Defaults to 5s.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// New creates a Bridge. The connection stays owned by the caller.
func New(nc *nats.Conn, bus *modkit.Bus, opts ...Option) (*Bridge, error) {
	if nc == nil {
		return nil, errors.New("natsbridge: nil connection")
	}
	if bus == nil {
		return nil, errors.New("natsbridge: nil bus")
	}
	b := &Bridge{
		nc:      nc,
		bus:     bus,
		id:      uuid.NewString(),
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("natsbridge").With(zap.String("bridge", b.id))
	return b, nil
}

// ID identifies this bridge in envelopes it sends.
func (b *Bridge) ID() string {
	return b.id
}

// Subject returns the full subject for name.
func (b *Bridge) Subject(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "." + name
}

// Forward publishes every local event with key to subject. The subscription
// belongs to owner and ends with it. Encoding or publish errors surface as
// handler failures on the bus.
func (b *Bridge) Forward(key modkit.EventKey, subject string, owner *modkit.ScopeInstance) (*modkit.Subscription, error) {
	full := b.Subject(subject)
	return b.bus.Subscribe(key, func(ctx context.Context, ev modkit.Event) error {
		if ev.Payload == nil {
			return b.send(full, ev, nil)
		}
		if raw, ok := ev.Payload.(json.RawMessage); ok {
			return b.send(full, ev, raw)
		}
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("natsbridge: encode %s: %w", ev.Key, err)
		}
		return b.send(full, ev, raw)
	}, owner)
}

func (b *Bridge) send(subject string, ev modkit.Event, payload json.RawMessage) error {
	data, err := json.Marshal(Envelope{
		ID:          ev.ID,
		Event:       string(ev.Key),
		Origin:      b.id,
		Payload:     payload,
		PublishedAt: ev.PublishedAt,
	})
	if err != nil {
		return fmt.Errorf("natsbridge: encode envelope: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("natsbridge: publish %s: %w", subject, err)
	}
	return nil
}

// Relay republishes envelopes received on subject as local events with key.
// The payload arrives as json.RawMessage; use RelayTyped to decode it.
// Envelopes sent by this bridge are ignored so that Forward and Relay on
// the same subject do not loop.
func (b *Bridge) Relay(subject string, key modkit.EventKey, owner *modkit.ScopeInstance) (*nats.Subscription, error) {
	return b.relay(subject, key, owner, func(raw json.RawMessage) (any, error) {
		return raw, nil
	})
}

// RelayTyped is Relay with the payload decoded into T.
func RelayTyped[T any](b *Bridge, subject string, key modkit.EventKey, owner *modkit.ScopeInstance) (*nats.Subscription, error) {
	return b.relay(subject, key, owner, func(raw json.RawMessage) (any, error) {
		var v T
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

func (b *Bridge) relay(subject string, key modkit.EventKey, owner *modkit.ScopeInstance, decode func(json.RawMessage) (any, error)) (*nats.Subscription, error) {
	full := b.Subject(subject)
	return b.subscribe(full, owner, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("dropping malformed envelope", zap.String("subject", full), zap.Error(err))
			return
		}
		if env.Origin == b.id {
			return
		}
		payload, err := decode(env.Payload)
		if err != nil {
			b.logger.Warn("dropping undecodable payload",
				zap.String("subject", full),
				zap.String("event", env.Event),
				zap.Error(err))
			return
		}
		b.resume(owner, func(ctx context.Context) {
			if err := b.bus.Publish(ctx, key, payload); err != nil {
				b.logger.Error("relay publish failed", zap.String("event", string(key)), zap.Error(err))
			}
		})
	})
}

// HandleCommand decodes messages on subject into T and passes them to fn,
// normally a method of a service resolved in owner. When the message has a
// reply subject the outcome is sent back as a Reply; a *modkit.UserError
// keeps its code and message, other errors are reported generically.
func HandleCommand[T any](b *Bridge, subject string, owner *modkit.ScopeInstance, fn func(ctx context.Context, cmd T) (any, error)) (*nats.Subscription, error) {
	full := b.Subject(subject)
	return b.subscribe(full, owner, func(msg *nats.Msg) {
		var cmd T
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			b.logger.Warn("dropping malformed command", zap.String("subject", full), zap.Error(err))
			b.respond(msg, Reply{Code: "bad_request", Error: "malformed command"})
			return
		}
		ran := b.resume(owner, func(ctx context.Context) {
			result, err := fn(ctx, cmd)
			b.respond(msg, b.reply(full, result, err))
		})
		if !ran {
			b.respond(msg, Reply{Code: "unavailable", Error: "scope closed"})
		}
	})
}

func (b *Bridge) reply(subject string, result any, err error) Reply {
	if err != nil {
		var ue *modkit.UserError
		if errors.As(err, &ue) {
			return Reply{Code: ue.Code, Error: ue.Message}
		}
		b.logger.Error("command failed", zap.String("subject", subject), zap.Error(err))
		return Reply{Code: modkit.CodeInternal, Error: "command failed"}
	}
	if result == nil {
		return Reply{OK: true}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("encode command result", zap.String("subject", subject), zap.Error(err))
		return Reply{Code: modkit.CodeInternal, Error: "command failed"}
	}
	return Reply{OK: true, Result: raw}
}

func (b *Bridge) respond(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		b.logger.Error("encode reply", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Request sends cmd to subject and decodes the reply result into out, which
// may be nil. A failed reply is returned as a *modkit.UserError.
func (b *Bridge) Request(ctx context.Context, subject string, cmd any, out any) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("natsbridge: encode command: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	msg, err := b.nc.RequestWithContext(ctx, b.Subject(subject), data)
	if err != nil {
		return fmt.Errorf("natsbridge: request %s: %w", subject, err)
	}
	var r Reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return fmt.Errorf("natsbridge: decode reply: %w", err)
	}
	if !r.OK {
		return &modkit.UserError{Code: r.Code, Message: r.Error}
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("natsbridge: decode result: %w", err)
		}
	}
	return nil
}

// resume runs fn inside owner's liveness guard with a context bounded by the
// bridge timeout. A nil owner always runs.
func (b *Bridge) resume(owner *modkit.ScopeInstance, fn func(ctx context.Context)) bool {
	run := func() {
		parent := context.Background()
		if owner != nil {
			parent = owner.Context()
		}
		ctx, cancel := context.WithTimeout(parent, b.timeout)
		defer cancel()
		fn(ctx)
	}
	if owner == nil {
		run()
		return true
	}
	return owner.Resume(run)
}

func (b *Bridge) subscribe(subject string, owner *modkit.ScopeInstance, cb nats.MsgHandler) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("natsbridge: bridge closed")
	}
	if owner != nil && !owner.Alive() {
		return nil, &modkit.ScopeClosedError{Scope: owner.String()}
	}
	sub, err := b.nc.Subscribe(subject, cb)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	if owner != nil {
		b.watchers.Add(1)
		b.watching.Add(1)
		go func() {
			defer b.watchers.Done()
			defer b.watching.Add(-1)
			select {
			case <-owner.Context().Done():
			case <-b.done:
				return
			}
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
				b.logger.Debug("unsubscribe on scope close", zap.String("subject", subject), zap.Error(err))
			}
		}()
	}
	b.logger.Debug("subscribed", zap.String("subject", subject))
	return sub, nil
}

// Close unsubscribes everything the bridge subscribed on NATS and waits for
// the scope watchers to exit. Bus subscriptions made by Forward end with their
// owning scopes.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	var errs []error
	for _, sub := range b.subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	b.watchers.Wait()
	return errors.Join(errs...)
}
