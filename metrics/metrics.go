// Package metrics holds the Prometheus collectors shared by the overlay, the record
// store and the REST front end.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gsls"

// Registry is the registry every collector in this package is registered on.
var Registry = prometheus.NewRegistry()

var (
	// TransportFrames counts frames by direction ("in", "out").
	TransportFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "frames_total",
		Help:      "Frames sent and received by the overlay transport.",
	}, []string{"direction"})

	// OverlayRPCs counts outbound overlay requests by op and outcome.
	OverlayRPCs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "rpcs_total",
		Help:      "Outbound overlay requests by operation and outcome.",
	}, []string{"op", "outcome"})

	// OverlayInboundDropped counts inbound requests dropped by rate limiting.
	OverlayInboundDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "inbound_dropped_total",
		Help:      "Inbound overlay requests dropped by the per-host rate limiter.",
	})

	// OverlayOperations observes get/put/delete/bootstrap latency by outcome.
	OverlayOperations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "operation_duration_seconds",
		Help:      "Duration of overlay operations.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"op", "outcome"})

	// Verifications counts envelope verifications by source and outcome.
	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "verifications_total",
		Help:      "Envelope verifications by source (client, stored, replica) and outcome.",
	}, []string{"source", "outcome"})

	// HTTPRequests observes REST request latency by route, method and status code.
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of REST requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TransportFrames,
		OverlayRPCs,
		OverlayInboundDropped,
		OverlayOperations,
		Verifications,
		HTTPRequests,
	)
}

// Outcome maps an error onto the "outcome" label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
