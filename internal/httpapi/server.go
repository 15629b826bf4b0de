// Package httpapi exposes a read-only introspection API over a runtime:
// health, Prometheus metrics, the scope tree, the registry and live
// mediator bindings. Events can be injected for manual testing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/centraunit/modkit"
)

const maxEventBody = 64 * 1024

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for a runtime.
type Server struct {
	echo     *echo.Echo
	rt       *modkit.Runtime
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(rt *modkit.Runtime, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if rt == nil {
		return nil, errors.New("runtime cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9410,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		rt:       rt,
		gatherer: gatherer,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.echo.GET("/scopes", s.handleScopes)
	s.echo.GET("/registry", s.handleRegistry)
	s.echo.GET("/bindings", s.handleBindings)
	s.echo.POST("/events/:key", s.handlePublish)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Scopes int    `json:"scopes"`
}

// ScopeView is one node of GET /scopes.
type ScopeView struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	Instances []string    `json:"instances"`
	Children  []ScopeView `json:"children,omitempty"`
}

// DescriptorView is one entry of GET /registry.
type DescriptorView struct {
	Type      string       `json:"type"`
	Scope     string       `json:"scope"`
	Role      string       `json:"role"`
	DependsOn []string     `json:"depends_on,omitempty"`
	Binding   *BindingView `json:"binding,omitempty"`
}

// BindingView describes a mediator binding.
type BindingView struct {
	Mediator string   `json:"mediator,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Events   []string `json:"events"`
}

// PublishResponse is the response body for POST /events/:key.
type PublishResponse struct {
	Event       string `json:"event"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(c echo.Context) error {
	root := s.rt.Root()
	if !root.Alive() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "shutdown"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Scopes: countScopes(root)})
}

func (s *Server) handleScopes(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scopeView(s.rt.Root()))
}

func (s *Server) handleRegistry(c echo.Context) error {
	descs := s.rt.Registry().Descriptors()
	out := make([]DescriptorView, 0, len(descs))
	for _, d := range descs {
		v := DescriptorView{
			Type:  d.Name(),
			Scope: string(d.Scope),
			Role:  d.Role.String(),
		}
		for _, dep := range d.DependsOn {
			v.DependsOn = append(v.DependsOn, dep.String())
		}
		if d.Binding != nil {
			v.Binding = bindingView(*d.Binding)
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleBindings(c echo.Context) error {
	active := s.rt.Bindings()
	out := make([]BindingView, 0, len(active))
	for _, b := range active {
		v := bindingView(b.MediatorBinding)
		v.Mediator = b.Mediator
		v.Scope = b.Scope
		out = append(out, *v)
	}
	return c.JSON(http.StatusOK, out)
}

// handlePublish publishes the JSON body on the bus as a json.RawMessage.
func (s *Server) handlePublish(c echo.Context) error {
	key := modkit.EventKey(c.Param("key"))
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(body) > maxEventBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "event body too large")
	}
	var payload any
	if len(body) > 0 {
		if !json.Valid(body) {
			return echo.NewHTTPError(http.StatusBadRequest, "event body must be JSON")
		}
		payload = json.RawMessage(body)
	}

	bus := s.rt.Bus()
	if err := bus.Publish(c.Request().Context(), key, payload); err != nil {
		s.logger.Warn("publish via http failed", zap.String("event", string(key)), zap.Error(err))
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, PublishResponse{Event: string(key), Subscribers: bus.Subscribers(key)})
}

func (s *Server) scopeView(scope *modkit.ScopeInstance) ScopeView {
	v := ScopeView{ID: scope.ID(), Kind: string(scope.Kind()), Instances: []string{}}
	for _, t := range s.rt.Instances(scope) {
		v.Instances = append(v.Instances, t.String())
	}
	children := scope.ChildScopes()
	sort.Slice(children, func(i, j int) bool { return children[i].ID() < children[j].ID() })
	for _, child := range children {
		v.Children = append(v.Children, s.scopeView(child))
	}
	return v
}

func bindingView(b modkit.MediatorBinding) *BindingView {
	v := &BindingView{Events: make([]string, 0, len(b.Events))}
	if b.Source != nil {
		v.Source = b.Source.String()
	}
	if b.Target != nil {
		v.Target = b.Target.String()
	}
	for _, e := range b.Events {
		v.Events = append(v.Events, string(e))
	}
	return v
}

func countScopes(s *modkit.ScopeInstance) int {
	n := 1
	for _, c := range s.ChildScopes() {
		n += countScopes(c)
	}
	return n
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
