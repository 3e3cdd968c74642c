package handshake

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nozo-moto/rawshake/internal/packet"
)

// Metrics counts handshake traffic. A nil *Metrics records nothing.
type Metrics struct {
	segmentsSent       *prometheus.CounterVec
	datagramsReceived  prometheus.Counter
	datagramsDiscarded *prometheus.CounterVec
	handshakes         *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		segmentsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawshake",
			Name:      "segments_sent_total",
			Help:      "Handshake segments handed to the transport, by TCP flags.",
		}, []string{"flags"}),
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rawshake",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read while waiting for the SYN-ACK.",
		}),
		datagramsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawshake",
			Name:      "datagrams_discarded_total",
			Help:      "Received datagrams that were not the expected SYN-ACK, by reason.",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawshake",
			Name:      "handshakes_total",
			Help:      "Finished handshake runs, by final state.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.segmentsSent, m.datagramsReceived, m.datagramsDiscarded, m.handshakes)
	return m
}

func (m *Metrics) sent(flags packet.Flags) {
	if m == nil {
		return
	}
	m.segmentsSent.WithLabelValues(flags.String()).Inc()
}

func (m *Metrics) received() {
	if m == nil {
		return
	}
	m.datagramsReceived.Inc()
}

func (m *Metrics) discarded(r Reason) {
	if m == nil {
		return
	}
	m.datagramsDiscarded.WithLabelValues(r.String()).Inc()
}

func (m *Metrics) finished(s State) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(s.String()).Inc()
}
