package comm

import "github.com/prometheus/client_golang/prometheus"

var (
	// packedBytes counts bytes moved through message buffers.
	packedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "halo",
			Subsystem: "comm",
			Name:      "packed_bytes_total",
			Help:      "Bytes packed into or unpacked from message buffers",
		},
		[]string{"backend", "op"}, // pack, unpack
	)

	// messagesStarted counts nonblocking operations started.
	messagesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "halo",
			Subsystem: "comm",
			Name:      "messages_total",
			Help:      "Nonblocking message operations started",
		},
		[]string{"backend", "direction"}, // send, recv
	)
)

// RegisterMetrics registers the package's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{packedBytes, messagesStarted} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
