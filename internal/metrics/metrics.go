package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway's collectors on a private prometheus registry.
type Registry struct {
	reg         *prometheus.Registry
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	probes      *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Upstream latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_runs_total",
			Help: "Proxy diagnostic probe runs by classification",
		}, []string{"classification"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}, []string{"route"}),
	}
	r.reg.MustRegister(
		r.requests, r.latency, r.probes, r.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) IncRequest(route, method, status string) {
	r.requests.WithLabelValues(route, method, status).Inc()
}

func (r *Registry) ObserveLatency(route string, d time.Duration) {
	r.latency.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) IncProbe(classification string) {
	r.probes.WithLabelValues(classification).Inc()
}

func (r *Registry) IncRateLimited(route string) {
	r.rateLimited.WithLabelValues(route).Inc()
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
