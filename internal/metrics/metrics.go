// Package metrics exposes Prometheus collectors for the execution substrate.
//
//   - swapkeeper_endpoint_healthy{pool,endpoint}        1 healthy, 0 cooling down
//   - swapkeeper_endpoint_cooldowns_total{endpoint}     cooldown entries
//   - swapkeeper_gateway_calls_total{pool,op,outcome}   upstream calls by outcome kind
//   - swapkeeper_exits_total{reason,result}             exits by reason (closed|failed|retry)
//   - swapkeeper_open_positions                         active positions after each tick
//   - swapkeeper_tick_duration_seconds                  monitor tick latency
//   - swapkeeper_admissions_total{result}               intake decisions
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

type Metrics struct {
	registry *prometheus.Registry

	endpointHealthy *prometheus.GaugeVec
	cooldowns       *prometheus.CounterVec
	gatewayCalls    *prometheus.CounterVec
	exits           *prometheus.CounterVec
	openPositions   prometheus.Gauge
	tickDuration    prometheus.Histogram
	admissions      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		endpointHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swapkeeper_endpoint_healthy",
				Help: "Endpoint health (1 healthy, 0 cooling down)",
			},
			[]string{"pool", "endpoint"},
		),
		cooldowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapkeeper_endpoint_cooldowns_total",
				Help: "Times an endpoint entered cooldown",
			},
			[]string{"endpoint"},
		),
		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapkeeper_gateway_calls_total",
				Help: "Upstream calls made by the execution gateway",
			},
			[]string{"pool", "op", "outcome"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapkeeper_exits_total",
				Help: "Exit attempts split by reason and result",
			},
			[]string{"reason", "result"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "swapkeeper_open_positions",
				Help: "Open or closing positions tracked by the monitor",
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swapkeeper_tick_duration_seconds",
				Help:    "Monitor tick latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swapkeeper_admissions_total",
				Help: "Admission requests by result (admitted|duplicate|expired|rejected|error)",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.endpointHealthy,
		m.cooldowns,
		m.gatewayCalls,
		m.exits,
		m.openPositions,
		m.tickDuration,
		m.admissions,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall counts one gateway call. outcome is "ok" or an error kind.
func (m *Metrics) ObserveCall(pool, op, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(pool, op, outcome).Inc()
}

// ObserveExit counts one exit attempt result.
func (m *Metrics) ObserveExit(reason domain.ExitReason, result string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(string(reason), result).Inc()
}

// SetOpenPositions records the active position count.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// ObserveTick records a tick duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// ObserveAdmission counts one intake decision.
func (m *Metrics) ObserveAdmission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// SetEndpointStatus mirrors a health snapshot into the gauge.
func (m *Metrics) SetEndpointStatus(pool string, statuses []domain.EndpointStatus) {
	if m == nil {
		return
	}
	for _, st := range statuses {
		v := 0.0
		if st.State == domain.EndpointStateHealthy {
			v = 1
		}
		m.endpointHealthy.WithLabelValues(pool, st.Address).Set(v)
	}
}

// HandleEvent updates counters from lifecycle events. It is registered as an
// event bus handler.
func (m *Metrics) HandleEvent(e domain.Event) {
	if m == nil {
		return
	}
	if e.Type == domain.EventEndpointCooldownEntered {
		m.cooldowns.WithLabelValues(e.Endpoint).Inc()
	}
}
