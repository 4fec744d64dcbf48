// Package instrument exposes the client's Prometheus metrics.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "mixclient"
	subsystem = "core"
)

// Acknowledgement outcomes.
const (
	AckAccepted = "accepted"
	AckUnknown  = "unknown"
	AckInvalid  = "invalid"
	AckCover    = "cover"
)

// Message drop reasons.
const (
	DropNoTopology  = "no_topology"
	DropNoRoute     = "no_route"
	DropTooLarge    = "too_large"
	DropMalformed   = "malformed"
	DropRetransmits = "max_retransmissions"
)

var (
	fragmentsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fragments_sent_total",
			Help:      "Number of fragments sent for the first time",
		},
	)
	retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retransmissions_total",
			Help:      "Number of fragment retransmissions",
		},
	)
	acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acks_total",
			Help:      "Number of received acknowledgements by outcome",
		},
		[]string{"outcome"},
	)
	coverPackets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cover_packets_total",
			Help:      "Number of loop cover packets sent",
		},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Number of dropped messages, fragments and cover ticks by reason",
		},
		[]string{"reason"},
	)
	reconstructed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_reconstructed_total",
			Help:      "Number of messages reassembled from received fragments",
		},
	)
	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_acks",
			Help:      "Number of fragments awaiting acknowledgement",
		},
	)
)

func init() {
	prometheus.MustRegister(fragmentsSent)
	prometheus.MustRegister(retransmissions)
	prometheus.MustRegister(acks)
	prometheus.MustRegister(coverPackets)
	prometheus.MustRegister(dropped)
	prometheus.MustRegister(reconstructed)
	prometheus.MustRegister(pending)
}

// Init exposes the registered metrics via HTTP on addr.
func Init(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}

// FragmentSent increments the counter of first transmissions.
func FragmentSent() {
	fragmentsSent.Inc()
}

// Retransmission increments the retransmission counter.
func Retransmission() {
	retransmissions.Inc()
}

// Ack increments the acknowledgement counter for the outcome.
func Ack(outcome string) {
	acks.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// CoverPacket increments the cover traffic counter.
func CoverPacket() {
	coverPackets.Inc()
}

// Dropped increments the drop counter for the reason.
func Dropped(reason string) {
	dropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// Reconstructed increments the reassembled message counter.
func Reconstructed() {
	reconstructed.Inc()
}

// Pending sets the number of fragments awaiting acknowledgement.
func Pending(n int) {
	pending.Set(float64(n))
}
