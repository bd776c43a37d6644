// Package metrics defines the prometheus collectors shared by every keydir
// process. Each process owns its own registry; nothing here is global.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process-wide counters. The transport increments the
// traffic and parse-error counters; the worker core increments forwards and
// inserts.
type Metrics struct {
	// ParseErrors counts malformed envelopes and unknown message kinds.
	ParseErrors prometheus.Counter
	// DatagramsReceived counts every datagram read off the socket.
	DatagramsReceived prometheus.Counter
	// DatagramsSent counts every datagram written, replies included.
	DatagramsSent prometheus.Counter
	// Forwards counts requests re-sent to the worker owning the key.
	Forwards prometheus.Counter
	// KeysInserted counts first-time key insertions into the local map.
	KeysInserted prometheus.Counter
}

// New registers the keydir counters on reg and returns them. Passing a
// fresh prometheus.NewRegistry per process keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "keydir_parse_errors_total",
			Help: "Malformed or unknown-kind datagrams received.",
		}),
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "keydir_datagrams_received_total",
			Help: "Datagrams read from the UDP socket.",
		}),
		DatagramsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "keydir_datagrams_sent_total",
			Help: "Datagrams written to the UDP socket.",
		}),
		Forwards: f.NewCounter(prometheus.CounterOpts{
			Name: "keydir_forwards_total",
			Help: "Requests forwarded to the worker owning the key.",
		}),
		KeysInserted: f.NewCounter(prometheus.CounterOpts{
			Name: "keydir_keys_inserted_total",
			Help: "Keys accepted into the local key map.",
		}),
	}
}
