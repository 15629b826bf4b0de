// Package metrics provides Prometheus instrumentation for the runtime.
// Every method is safe to call on a nil *Metrics, which disables recording.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when New is given an empty namespace.
const DefaultNamespace = "modkit"

// Metrics holds the runtime's collectors.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	Constructions   *prometheus.CounterVec
	Publishes       *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	OpenScopes      prometheus.Gauge
	Subscriptions   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "resolutions_total",
			Help:      "Resolve calls by owning scope kind and result (hit, constructed, error).",
		}, []string{"scope", "result"}),
		Constructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "container",
			Name:      "constructions_total",
			Help:      "Service instances constructed, by role.",
		}, []string{"role"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "publishes_total",
			Help:      "Events published, by event key.",
		}, []string{"event"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "deliveries_total",
			Help:      "Successful handler invocations, by event key.",
		}, []string{"event"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_failures_total",
			Help:      "Handler errors and panics, by event key.",
		}, []string{"event"}),
		OpenScopes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scope",
			Name:      "open",
			Help:      "Scopes currently open, root included.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscriptions",
			Help:      "Live event subscriptions.",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					return nil, fmt.Errorf("metrics already registered for namespace %q: %w", namespace, err)
				}
				return nil, fmt.Errorf("failed to register metric: %w", err)
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Resolutions,
		m.Constructions,
		m.Publishes,
		m.Deliveries,
		m.HandlerFailures,
		m.OpenScopes,
		m.Subscriptions,
	}
}

func (m *Metrics) Resolved(scope, result string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) Constructed(role string) {
	if m == nil {
		return
	}
	m.Constructions.WithLabelValues(role).Inc()
}

func (m *Metrics) Published(event string) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(event).Inc()
}

func (m *Metrics) Delivered(event string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(event).Inc()
}

func (m *Metrics) HandlerFailed(event string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) ScopeOpened() {
	if m == nil {
		return
	}
	m.OpenScopes.Inc()
}

func (m *Metrics) ScopeClosed() {
	if m == nil {
		return
	}
	m.OpenScopes.Dec()
}

func (m *Metrics) SubscriptionAdded() {
	if m == nil {
		return
	}
	m.Subscriptions.Inc()
}

func (m *Metrics) SubscriptionRemoved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Subscriptions.Sub(float64(n))
}
