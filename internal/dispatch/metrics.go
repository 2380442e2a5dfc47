package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes as metric label values.
const (
	outcomeSuccess = "success"
	outcomeDenied  = "denied"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeUnknown = "unknown_tool"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Tool dispatches by tool and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bastion",
		Subsystem: "dispatch",
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"tool"})
)

func observeDispatch(tool, outcome string) {
	dispatchTotal.WithLabelValues(tool, outcome).Inc()
}

func observeDuration(tool string, d time.Duration) {
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
