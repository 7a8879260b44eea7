// Package metrics exposes a client's queue and connection state as
// Prometheus metrics, using the same pull-based prometheus.Collector
// shape as a classic per-connection tcpinfo exporter, but reporting the
// library's own domain counters instead of raw kernel socket state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of everything the collector reports. The caller
// (the client facade) builds one of these on demand from its queue and
// connection supervisor.
type Stats struct {
	QueueDepth      int
	InFlight        bool
	Reconnects      int
	BytesSent       int64
	BytesReceived   int64
	ConnectionState float64 // see conn.State's Value() method
}

// StatsFunc produces a fresh snapshot each time Prometheus scrapes.
type StatsFunc func() Stats

// Collector is a prometheus.Collector backed by a StatsFunc rather than a
// map of tracked connections, since a Client manages exactly one device
// connection at a time.
type Collector struct {
	statsFn StatsFunc

	queueDepthDesc *prometheus.Desc
	inFlightDesc   *prometheus.Desc
	reconnectsDesc *prometheus.Desc
	bytesSentDesc  *prometheus.Desc
	bytesRecvDesc  *prometheus.Desc
	connStateDesc  *prometheus.Desc
}

// New builds a Collector. prefix namespaces every metric name (typically
// "gcunified"); constLabels are attached to every metric, e.g. the
// device's host:port.
func New(prefix string, constLabels prometheus.Labels, statsFn StatsFunc) *Collector {
	return &Collector{
		statsFn: statsFn,
		queueDepthDesc: prometheus.NewDesc(
			prefix+"_queue_depth",
			"Number of requests waiting to be dispatched.",
			nil, constLabels,
		),
		inFlightDesc: prometheus.NewDesc(
			prefix+"_inflight",
			"Whether a request is currently on the wire (1) or not (0).",
			nil, constLabels,
		),
		reconnectsDesc: prometheus.NewDesc(
			prefix+"_reconnects_total",
			"Number of times the connection has been re-established.",
			nil, constLabels,
		),
		bytesSentDesc: prometheus.NewDesc(
			prefix+"_bytes_sent_total",
			"Bytes written to the device over the current connection.",
			nil, constLabels,
		),
		bytesRecvDesc: prometheus.NewDesc(
			prefix+"_bytes_received_total",
			"Bytes read from the device over the current connection.",
			nil, constLabels,
		),
		connStateDesc: prometheus.NewDesc(
			prefix+"_connection_state",
			"Current connection supervisor state, as a numeric code.",
			nil, constLabels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.inFlightDesc
	ch <- c.reconnectsDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesRecvDesc
	ch <- c.connStateDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsFn()

	inFlight := 0.0
	if s.InFlight {
		inFlight = 1
	}

	ch <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.inFlightDesc, prometheus.GaugeValue, inFlight)
	ch <- prometheus.MustNewConstMetric(c.reconnectsDesc, prometheus.CounterValue, float64(s.Reconnects))
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.connStateDesc, prometheus.GaugeValue, s.ConnectionState)
}
