// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HostFramesTotal counts frames moved by the host binding, by direction:
	// rx (from the ring), tx (to the wire), up (indicated to the upper sink).
	HostFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pausefilter_host_frames_total",
			Help: "Total number of frames moved by the host binding",
		},
		[]string{"interface", "direction"},
	)

	// HostErrorsTotal counts host binding I/O errors by operation.
	HostErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pausefilter_host_errors_total",
			Help: "Total number of host binding errors",
		},
		[]string{"interface", "op"},
	)

	// DeferredRejectsTotal counts deferred work refused because a worker
	// queue was full.
	DeferredRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pausefilter_host_deferred_rejects_total",
			Help: "Total number of deferred work items refused by a full worker queue",
		},
		[]string{"interface"},
	)

	// DeferredLatencySeconds measures the delay between queueing deferred
	// work and running it.
	DeferredLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pausefilter_host_deferred_latency_seconds",
			Help:    "Delay between queueing and running deferred work in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"interface"},
	)

	// HostLinkUp is 1 while the bound interface reports a carrier.
	HostLinkUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pausefilter_host_link_up",
			Help: "Whether the bound interface has link (1) or not (0)",
		},
		[]string{"interface"},
	)
)

// Frame directions for HostFramesTotal.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
	DirectionUp = "up"
)
