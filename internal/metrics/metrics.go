// Package metrics exposes Prometheus counters for query volume, forwarding
// outcomes, and reload activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every counter/gauge this daemon exports.
type Metrics struct {
	QueriesTotal       *prometheus.CounterVec
	AuthoritativeHits  prometheus.Counter
	AuthoritativeMiss  prometheus.Counter
	ForwardFailures    prometheus.Counter
	ReloadsTotal       prometheus.Counter
	ReloadRejectedFile prometheus.Counter
	ListenersActive    prometheus.Gauge
}

// New creates and registers every metric against registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aardvark_dns_queries_total",
			Help: "Total DNS queries received, by transport and qtype.",
		}, []string{"transport", "qtype"}),
		AuthoritativeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aardvark_dns_authoritative_hits_total",
			Help: "Queries answered authoritatively from the local snapshot.",
		}),
		AuthoritativeMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aardvark_dns_authoritative_miss_total",
			Help: "Queries that missed the local snapshot and were forwarded or NXDOMAIN'd.",
		}),
		ForwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aardvark_dns_forward_failures_total",
			Help: "Forwarded queries where every configured resolver failed.",
		}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aardvark_dns_reloads_total",
			Help: "Total config reloads triggered by SIGHUP.",
		}),
		ReloadRejectedFile: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aardvark_dns_reload_rejected_files_total",
			Help: "Config files rejected during a reload due to parse errors.",
		}),
		ListenersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aardvark_dns_listeners_active",
			Help: "Number of bind IPs currently served.",
		}),
	}
	registry.MustRegister(
		m.QueriesTotal, m.AuthoritativeHits, m.AuthoritativeMiss,
		m.ForwardFailures, m.ReloadsTotal, m.ReloadRejectedFile, m.ListenersActive,
	)
	return m
}

// Handler returns an HTTP handler serving registry in the Prometheus
// exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
