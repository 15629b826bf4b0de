package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/internal/demo"
	"github.com/centraunit/modkit/metrics"
)

func newTestServer(t *testing.T) (*Server, *modkit.Runtime) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg, "")
	require.NoError(t, err)

	reg := modkit.NewRegistry()
	require.NoError(t, reg.RegisterModules(demo.Module{}))
	require.NoError(t, reg.Build())
	rt, err := modkit.NewRuntime(reg, modkit.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Shutdown() })

	s, err := NewServer(rt, promReg, nil, nil)
	require.NoError(t, err)
	return s, rt
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_NilRuntime(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, rt := newTestServer(t)
	_, err := rt.OpenScope(modkit.ScopeScreen, nil)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", Scopes: 2}, resp)

	require.NoError(t, rt.Shutdown())
	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScopes(t *testing.T) {
	s, rt := newTestServer(t)
	screen, err := rt.OpenScope(modkit.ScopeScreen, nil)
	require.NoError(t, err)
	_, err = modkit.Resolve[*demo.CounterPresenter](context.Background(), rt, screen)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/scopes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var root ScopeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))

	assert.Equal(t, "singleton", root.Kind)
	assert.Contains(t, root.Instances, "*demo.LoggerMediator")
	assert.Contains(t, root.Instances, "*demo.CounterService")
	require.Len(t, root.Children, 1)
	assert.Equal(t, screen.ID(), root.Children[0].ID)
	assert.Equal(t, []string{"*demo.CounterPresenter"}, root.Children[0].Instances)
}

func TestRegistry(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/registry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var descs []DescriptorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descs))
	require.Len(t, descs, 5)

	byType := make(map[string]DescriptorView, len(descs))
	for _, d := range descs {
		byType[d.Type] = d
	}
	presenter := byType["*demo.CounterPresenter"]
	assert.Equal(t, "screen", presenter.Scope)
	assert.Equal(t, "presenter", presenter.Role)

	mediator := byType["*demo.LoggerMediator"]
	require.NotNil(t, mediator.Binding)
	assert.Equal(t, "*demo.CounterService", mediator.Binding.Source)
	assert.Equal(t, []string{string(demo.CounterChanged)}, mediator.Binding.Events)
}

func TestBindings(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/bindings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bindings []BindingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bindings))
	require.Len(t, bindings, 1)
	assert.Equal(t, "*demo.LoggerMediator", bindings[0].Mediator)
	assert.Equal(t, "*demo.HistoryRepository", bindings[0].Target)
}

func TestPublish(t *testing.T) {
	s, rt := newTestServer(t)

	var got []json.RawMessage
	_, err := rt.Bus().Subscribe("ui.ping", func(ctx context.Context, ev modkit.Event) error {
		got = append(got, ev.Payload.(json.RawMessage))
		return nil
	}, rt.Root())
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/events/ui.ping", `{"n":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, PublishResponse{Event: "ui.ping", Subscribers: 1}, resp)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"n":1}`, string(got[0]))

	rec = do(t, s, http.MethodPost, "/events/ui.ping", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/events/ui.ping", `"`+strings.Repeat("x", maxEventBody)+`"`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, rt := newTestServer(t)
	counter := modkit.MustResolve[*demo.CounterService](context.Background(), rt, nil)
	_, err := counter.Increment(context.Background())
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `modkit_bus_publishes_total{event="counter.changed"} 1`)
	assert.Contains(t, body, "modkit_scope_open 1")
	assert.Contains(t, body, `modkit_container_constructions_total{role="mediator"} 1`)
}
