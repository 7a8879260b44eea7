package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollectorReportsSnapshot(t *testing.T) {
	snapshot := Stats{
		QueueDepth:      3,
		InFlight:        true,
		Reconnects:      2,
		BytesSent:       100,
		BytesReceived:   200,
		ConnectionState: 1,
	}
	c := New("gcunified", prometheus.Labels{"device": "192.0.2.1:4998"}, func() Stats { return snapshot })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.Gauge != nil:
				v = m.Gauge.GetValue()
			case m.Counter != nil:
				v = m.Counter.GetValue()
			}
			values[mf.GetName()] = v
		}
	}

	require.Equal(t, 3.0, values["gcunified_queue_depth"])
	require.Equal(t, 1.0, values["gcunified_inflight"])
	require.Equal(t, 2.0, values["gcunified_reconnects_total"])
	require.Equal(t, 100.0, values["gcunified_bytes_sent_total"])
	require.Equal(t, 200.0, values["gcunified_bytes_received_total"])
	require.Equal(t, 1.0, values["gcunified_connection_state"])
}
