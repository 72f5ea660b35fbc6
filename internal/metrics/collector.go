// Package metrics exposes the service's Prometheus surface: roster
// gauges fed by the connection observer, probe timings, pool stats, and
// the ops HTTP server.
package metrics

import (
	"time"

	"github.com/gatewarden/gatewarden/internal/ipalloc"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the service-level metrics the observers feed.
type Collector struct {
	users       *prometheus.GaugeVec
	peers       *prometheus.GaugeVec
	probeCycles *prometheus.HistogramVec
	probeErrors *prometheus.CounterVec
}

// NewCollector registers the service metrics with reg. The IP pool gauge
// reads the queue on scrape, so it needs no feeding.
func NewCollector(reg prometheus.Registerer, ips *ipalloc.Queue) *Collector {
	c := &Collector{
		users: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatewarden_users",
			Help: "Known users by status",
		}, []string{"status"}),
		peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatewarden_peers",
			Help: "Known peers by kind and status",
		}, []string{"kind", "status"}),
		probeCycles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatewarden_probe_cycle_seconds",
			Help:    "Duration of connection probe cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		probeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewarden_probe_errors_total",
			Help: "Peer probes that failed",
		}, []string{"loop"}),
	}
	reg.MustRegister(c.users, c.peers, c.probeCycles, c.probeErrors)

	if ips != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gatewarden_ip_pool_available",
			Help: "Free addresses left in the tunnel IP pool",
		}, func() float64 {
			return float64(ips.Available())
		}))
	}
	return c
}

// SetRoster replaces the user and peer gauges with counts from a fresh
// roster snapshot.
func (c *Collector) SetRoster(users []model.User, peers []model.Peer) {
	c.users.Reset()
	for _, u := range users {
		c.users.WithLabelValues(u.Status).Inc()
	}
	c.peers.Reset()
	for _, p := range peers {
		c.peers.WithLabelValues(p.Kind, p.Status).Inc()
	}
}

// ObserveProbeCycle records one probe cycle's duration.
func (c *Collector) ObserveProbeCycle(loop string, d time.Duration) {
	c.probeCycles.WithLabelValues(loop).Observe(d.Seconds())
}

// IncProbeError counts one failed peer probe.
func (c *Collector) IncProbeError(loop string) {
	c.probeErrors.WithLabelValues(loop).Inc()
}
