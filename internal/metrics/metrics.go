// Package metrics exposes relay counters as Prometheus metrics, gathered
// at scrape time from the running server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/funknet/funknet/internal/relay"
)

// RelayStatsProvider exposes the relay counter snapshot.
type RelayStatsProvider interface {
	Stats() relay.Stats
}

// Collector is a prometheus.Collector for the funkd relay.
type Collector struct {
	relay     RelayStatsProvider
	startTime time.Time

	peersDesc            *prometheus.Desc
	channelsDesc         *prometheus.Desc
	packetsInDesc        *prometheus.Desc
	packetsForwardedDesc *prometheus.Desc
	packetsDroppedDesc   *prometheus.Desc
	bytesInDesc          *prometheus.Desc
	bytesOutDesc         *prometheus.Desc
	authFailuresDesc     *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a relay metrics collector.
func NewCollector(relayStats RelayStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		relay:     relayStats,
		startTime: startTime,

		peersDesc: prometheus.NewDesc(
			"funkd_active_peers",
			"Number of live authenticated peers",
			nil, nil,
		),
		channelsDesc: prometheus.NewDesc(
			"funkd_active_channels",
			"Number of channels with at least one member",
			nil, nil,
		),
		packetsInDesc: prometheus.NewDesc(
			"funkd_packets_received_total",
			"Total datagrams received by the relay",
			nil, nil,
		),
		packetsForwardedDesc: prometheus.NewDesc(
			"funkd_packets_forwarded_total",
			"Total datagrams fanned out to recipients",
			nil, nil,
		),
		packetsDroppedDesc: prometheus.NewDesc(
			"funkd_packets_dropped_total",
			"Total datagrams dropped (malformed, unauthorized, send failure)",
			nil, nil,
		),
		bytesInDesc: prometheus.NewDesc(
			"funkd_bytes_received_total",
			"Total bytes received by the relay",
			nil, nil,
		),
		bytesOutDesc: prometheus.NewDesc(
			"funkd_bytes_sent_total",
			"Total bytes sent by the relay",
			nil, nil,
		),
		authFailuresDesc: prometheus.NewDesc(
			"funkd_auth_failures_total",
			"Total failed authentication attempts",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"funkd_uptime_seconds",
			"Seconds since the funkd process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peersDesc
	ch <- c.channelsDesc
	ch <- c.packetsInDesc
	ch <- c.packetsForwardedDesc
	ch <- c.packetsDroppedDesc
	ch <- c.bytesInDesc
	ch <- c.bytesOutDesc
	ch <- c.authFailuresDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It snapshots the relay at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.relay != nil {
		st := c.relay.Stats()
		ch <- prometheus.MustNewConstMetric(c.peersDesc, prometheus.GaugeValue, float64(st.ActivePeers))
		ch <- prometheus.MustNewConstMetric(c.channelsDesc, prometheus.GaugeValue, float64(st.ActiveChannels))
		ch <- prometheus.MustNewConstMetric(c.packetsInDesc, prometheus.CounterValue, float64(st.PacketsIn))
		ch <- prometheus.MustNewConstMetric(c.packetsForwardedDesc, prometheus.CounterValue, float64(st.PacketsForwarded))
		ch <- prometheus.MustNewConstMetric(c.packetsDroppedDesc, prometheus.CounterValue, float64(st.PacketsDropped))
		ch <- prometheus.MustNewConstMetric(c.bytesInDesc, prometheus.CounterValue, float64(st.BytesIn))
		ch <- prometheus.MustNewConstMetric(c.bytesOutDesc, prometheus.CounterValue, float64(st.BytesOut))
		ch <- prometheus.MustNewConstMetric(c.authFailuresDesc, prometheus.CounterValue, float64(st.AuthFailures))
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
