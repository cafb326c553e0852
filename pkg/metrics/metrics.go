// Package metrics holds the wallet's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Name:      "transitions_total",
		Help:      "Accepted transaction changes by type and resulting status.",
	}, []string{"type", "status"})

	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallet",
		Name:      "rejections_total",
		Help:      "Rejected requests by operation and error code.",
	}, []string{"op", "code"})

	Alerts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Name:      "alerts_total",
		Help:      "Invariant violations and other alerts that need an operator.",
	})

	Flagged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Name:      "withdrawals_flagged_total",
		Help:      "Withdrawals flagged for review because they waited too long for broadcast.",
	})

	Relayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wallet",
		Name:      "events_relayed_total",
		Help:      "Journal events published to nats.",
	})

	OpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wallet",
		Name:      "op_latency_seconds",
		Help:      "Latency of ledger operations.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(Transitions, Rejections, Alerts, Flagged, Relayed, OpLatency)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
