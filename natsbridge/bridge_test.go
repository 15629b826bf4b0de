package natsbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/natsbridge"
)

const counterChanged modkit.EventKey = "counter.changed"

type incrementCmd struct {
	By int `json:"by"`
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func newRuntime(t *testing.T) *modkit.Runtime {
	t.Helper()
	reg := modkit.NewRegistry()
	require.NoError(t, reg.Build())
	rt, err := modkit.NewRuntime(reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func newBridge(t *testing.T, nc *nats.Conn, rt *modkit.Runtime) *natsbridge.Bridge {
	t.Helper()
	b, err := natsbridge.New(nc, rt.Bus(), natsbridge.WithSubjectPrefix("test."), natsbridge.WithTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNew_Validation(t *testing.T) {
	_, err := natsbridge.New(nil, modkit.NewBus())
	assert.Error(t, err)

	server := startTestNATSServer(t)
	_, err = natsbridge.New(connect(t, server), nil)
	assert.Error(t, err)
}

func TestBridge_Subject(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)
	b := newBridge(t, connect(t, server), rt)
	assert.Equal(t, "test.counter", b.Subject("counter"))
}

func TestForward(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	rt := newRuntime(t)
	b := newBridge(t, nc, rt)

	received := make(chan *nats.Msg, 1)
	_, err := nc.ChanSubscribe("test.events.counter", received)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	_, err = b.Forward(counterChanged, "events.counter", rt.Root())
	require.NoError(t, err)
	require.NoError(t, rt.Bus().Publish(context.Background(), counterChanged, 3))

	select {
	case msg := <-received:
		var env natsbridge.Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, string(counterChanged), env.Event)
		assert.Equal(t, b.ID(), env.Origin)
		assert.JSONEq(t, `3`, string(env.Payload))
		assert.NotEmpty(t, env.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no forwarded message")
	}
}

func TestForward_UnencodablePayloadIsHandlerFailure(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)

	var failures []*modkit.HandlerFailure
	bus := modkit.NewBus(modkit.WithFailureHandler(func(f *modkit.HandlerFailure) {
		failures = append(failures, f)
	}))
	b, err := natsbridge.New(connect(t, server), bus)
	require.NoError(t, err)

	_, err = b.Forward(counterChanged, "events.counter", rt.Root())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), counterChanged, make(chan int)))

	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "encode")
}

func TestRelayTyped_BetweenRuntimes(t *testing.T) {
	server := startTestNATSServer(t)

	producer := newRuntime(t)
	consumer := newRuntime(t)
	out := newBridge(t, connect(t, server), producer)
	inConn := connect(t, server)
	in := newBridge(t, inConn, consumer)

	got := make(chan int, 2)
	_, err := modkit.NewTopic[int](counterChanged).Subscribe(consumer.Bus(), consumer.Root(), func(ctx context.Context, v int) error {
		got <- v
		return nil
	})
	require.NoError(t, err)

	_, err = natsbridge.RelayTyped[int](in, "events.counter", counterChanged, consumer.Root())
	require.NoError(t, err)
	require.NoError(t, inConn.Flush())
	_, err = out.Forward(counterChanged, "events.counter", producer.Root())
	require.NoError(t, err)

	require.NoError(t, producer.Bus().Publish(context.Background(), counterChanged, 1))
	require.NoError(t, producer.Bus().Publish(context.Background(), counterChanged, 2))

	for _, want := range []int{1, 2} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("no relayed event %d", want)
		}
	}
}

func TestRelay_IgnoresOwnEnvelopes(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	rt := newRuntime(t)
	b := newBridge(t, nc, rt)

	_, err := b.Forward(counterChanged, "events.counter", rt.Root())
	require.NoError(t, err)
	_, err = b.Relay("events.counter", counterChanged, rt.Root())
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	var seen atomic.Int32
	_, err = rt.Bus().Subscribe(counterChanged, func(ctx context.Context, ev modkit.Event) error {
		seen.Add(1)
		return nil
	}, rt.Root())
	require.NoError(t, err)

	require.NoError(t, rt.Bus().Publish(context.Background(), counterChanged, 1))
	require.NoError(t, nc.Flush())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), seen.Load())
}

func TestHandleCommand(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)
	b := newBridge(t, connect(t, server), rt)

	total := 0
	_, err := natsbridge.HandleCommand(b, "cmd.increment", rt.Root(), func(ctx context.Context, cmd incrementCmd) (any, error) {
		if cmd.By <= 0 {
			return nil, modkit.NewUserError("invalid_step", "step must be positive")
		}
		if cmd.By > 100 {
			return nil, errors.New("db exploded")
		}
		total += cmd.By
		return map[string]int{"total": total}, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	var result struct {
		Total int `json:"total"`
	}
	require.NoError(t, b.Request(ctx, "cmd.increment", incrementCmd{By: 2}, &result))
	assert.Equal(t, 2, result.Total)
	require.NoError(t, b.Request(ctx, "cmd.increment", incrementCmd{By: 3}, &result))
	assert.Equal(t, 5, result.Total)

	err = b.Request(ctx, "cmd.increment", incrementCmd{By: -1}, nil)
	var ue *modkit.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "invalid_step", ue.Code)
	assert.Equal(t, "step must be positive", ue.Message)

	err = b.Request(ctx, "cmd.increment", incrementCmd{By: 1000}, nil)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, modkit.CodeInternal, ue.Code)
	assert.NotContains(t, ue.Message, "exploded")
}

func TestHandleCommand_Malformed(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	rt := newRuntime(t)
	b := newBridge(t, nc, rt)

	_, err := natsbridge.HandleCommand(b, "cmd.increment", rt.Root(), func(ctx context.Context, cmd incrementCmd) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	msg, err := nc.Request("test.cmd.increment", []byte("{not json"), 2*time.Second)
	require.NoError(t, err)
	var r natsbridge.Reply
	require.NoError(t, json.Unmarshal(msg.Data, &r))
	assert.False(t, r.OK)
	assert.Equal(t, "bad_request", r.Code)
}

func TestHandleCommand_ScopeCloseStopsHandling(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)
	b := newBridge(t, connect(t, server), rt)

	screen, err := rt.OpenScope(modkit.ScopeScreen, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	sub, err := natsbridge.HandleCommand(b, "cmd.increment", screen, func(ctx context.Context, cmd incrementCmd) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Request(context.Background(), "cmd.increment", incrementCmd{By: 1}, nil))
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, rt.CloseScope(screen))
	require.Eventually(t, func() bool { return !sub.IsValid() }, 2*time.Second, 10*time.Millisecond)

	err = b.Request(context.Background(), "cmd.increment", incrementCmd{By: 1}, nil)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = natsbridge.HandleCommand(b, "cmd.other", screen, func(ctx context.Context, cmd incrementCmd) (any, error) {
		return nil, nil
	})
	var closed *modkit.ScopeClosedError
	assert.ErrorAs(t, err, &closed)
}

func TestClose(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)
	b := newBridge(t, connect(t, server), rt)

	sub, err := b.Relay("events.counter", counterChanged, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Close())

	_, err = b.Relay("events.counter", counterChanged, nil)
	assert.Error(t, err)
}

func TestClose_StopsScopeWatchers(t *testing.T) {
	server := startTestNATSServer(t)
	rt := newRuntime(t)
	b := newBridge(t, connect(t, server), rt)

	screen, err := rt.OpenScope(modkit.ScopeScreen, nil)
	require.NoError(t, err)

	sub, err := b.Relay("events.counter", counterChanged, screen)
	require.NoError(t, err)
	_, err = natsbridge.HandleCommand(b, "cmd.increment", screen, func(ctx context.Context, cmd incrementCmd) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Watching())

	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Watching(), "watchers exit while the owning scope is still open")
	assert.False(t, sub.IsValid())
	assert.True(t, screen.Alive())

	require.NoError(t, rt.CloseScope(screen))
}
