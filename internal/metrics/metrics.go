// Package metrics exposes the process-internal Prometheus counters and
// gauges this server tracks, built the same promauto way as the
// process-internal registries elsewhere in the pack.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every metric this server tracks.
type Registry struct {
	RequestsTotal  *prometheus.CounterVec
	RepliesTotal   *prometheus.CounterVec
	SilenceTotal   *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	Evictions      *prometheus.CounterVec
	ReloadTotal    *prometheus.CounterVec
	ActiveV4Leases prometheus.Gauge
	ActiveV6Leases prometheus.Gauge
}

// Get returns the global metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_requests_total",
		Help: "Total DHCP requests received, by IP version and message type",
	}, []string{"ip_version", "message_type"})

	r.RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_replies_total",
		Help: "Total DHCP replies sent, by IP version, message type, and match method",
	}, []string{"ip_version", "message_type", "match"})

	r.SilenceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_silence_total",
		Help: "Total requests answered with silence, by IP version and reason",
	}, []string{"ip_version", "reason"})

	r.EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_events_dropped_total",
		Help: "Total analytics events dropped because the event channel was full",
	}, []string{"ip_version"})

	r.Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_evictions_total",
		Help: "Total lease cache entries evicted, by kind",
	}, []string{"kind"})

	r.ReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resdhcp_reloads_total",
		Help: "Total reservation reloads, by trigger and status",
	}, []string{"trigger", "status"})

	r.ActiveV4Leases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resdhcp_active_v4_leases",
		Help: "Current number of v4 leases in the cache",
	})

	r.ActiveV6Leases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resdhcp_active_v6_leases",
		Help: "Current number of v6 leases in the cache",
	})

	return r
}
