package telemetry

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector exports proxy metrics to Prometheus and keeps a small
// JSON-friendly summary for the admin /stats endpoint.
type MetricsCollector struct {
	reg *prometheus.Registry

	active        prometheus.Gauge
	total         prometheus.Counter
	bytes         *prometheus.CounterVec
	routeHitsVec  *prometheus.CounterVec
	preread       *prometheus.CounterVec
	disconnects   prometheus.Counter
	rateLimited   prometheus.Counter
	statusCacheOp *prometheus.CounterVec

	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	bytesIngress      atomic.Int64
	bytesEgress       atomic.Int64

	routeMu   sync.Mutex
	routeHits map[string]int64
}

func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &MetricsCollector{
		reg: reg,
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "craftgate",
			Name:      "connections_active",
			Help:      "Client connections currently open.",
		}),
		total: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "connections_total",
			Help:      "Client connections accepted.",
		}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "bytes_total",
			Help:      "Bytes proxied, by direction (ingress = client to upstream).",
		}, []string{"direction"}),
		routeHitsVec: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "route_hits_total",
			Help:      "Connections resolved to a route, by configured route host.",
		}, []string{"host"}),
		preread: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "preread_total",
			Help:      "Routing preread results, by parser and outcome.",
		}, []string{"parser", "outcome"}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "disconnects_total",
			Help:      "Clients answered with a disconnect message instead of being proxied.",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "rate_limited_total",
			Help:      "Connections refused by the per-IP rate limiter.",
		}),
		statusCacheOp: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "craftgate",
			Name:      "status_cache_total",
			Help:      "Status ping cache lookups, by result (hit, miss, error).",
		}, []string{"result"}),
		routeHits: map[string]int64{},
	}
}

// Registry exposes the collector's registry, mainly for tests.
func (m *MetricsCollector) Registry() *prometheus.Registry { return m.reg }

// Handler serves the Prometheus text exposition.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *MetricsCollector) IncActive() {
	m.activeConnections.Add(1)
	m.totalConnections.Add(1)
	m.active.Inc()
	m.total.Inc()
}

func (m *MetricsCollector) DecActive() {
	m.activeConnections.Add(-1)
	m.active.Dec()
}

func (m *MetricsCollector) AddIngress(n int64) {
	if n <= 0 {
		return
	}
	m.bytesIngress.Add(n)
	m.bytes.WithLabelValues("ingress").Add(float64(n))
}

func (m *MetricsCollector) AddEgress(n int64) {
	if n <= 0 {
		return
	}
	m.bytesEgress.Add(n)
	m.bytes.WithLabelValues("egress").Add(float64(n))
}

func (m *MetricsCollector) AddRouteHit(host string) {
	if host == "" {
		host = "default"
	}
	m.routeHitsVec.WithLabelValues(host).Inc()
	m.routeMu.Lock()
	m.routeHits[host]++
	m.routeMu.Unlock()
}

func (m *MetricsCollector) ObservePreread(parser, outcome string) {
	if parser == "" {
		parser = "none"
	}
	m.preread.WithLabelValues(parser, outcome).Inc()
}

func (m *MetricsCollector) IncDisconnect()  { m.disconnects.Inc() }
func (m *MetricsCollector) IncRateLimited() { m.rateLimited.Inc() }

func (m *MetricsCollector) ObserveStatusCache(result string) {
	m.statusCacheOp.WithLabelValues(result).Inc()
}

type MetricsSnapshot struct {
	ActiveConnections int64            `json:"active_connections"`
	TotalConnections  int64            `json:"total_connections_handled"`
	BytesIngress      int64            `json:"bytes_ingress"`
	BytesEgress       int64            `json:"bytes_egress"`
	RouteHits         map[string]int64 `json:"route_hits"`
}

func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.routeMu.Lock()
	rh := make(map[string]int64, len(m.routeHits))
	for k, v := range m.routeHits {
		rh[k] = v
	}
	m.routeMu.Unlock()

	return MetricsSnapshot{
		ActiveConnections: m.activeConnections.Load(),
		TotalConnections:  m.totalConnections.Load(),
		BytesIngress:      m.bytesIngress.Load(),
		BytesEgress:       m.bytesEgress.Load(),
		RouteHits:         rh,
	}
}
