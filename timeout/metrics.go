package timeout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes used as the "outcome" label.
const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeTimeout  = "timeout"
	outcomeCanceled = "canceled"
	outcomeAborted  = "caller_aborted"
)

// attemptsTotal counts settled attempts.
//
// Metric name: scan_timeout_attempts_total
// Labels:
//   - label: the operation label (WithLabel)
//   - outcome: success, failure, timeout, canceled or caller_aborted
var attemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scan",
		Subsystem: "timeout",
		Name:      "attempts_total",
		Help:      "Total number of settled timeout-governed attempts",
	},
	[]string{"label", "outcome"},
)

// exhaustedTotal counts Progressive calls that ran out of ladder.
var exhaustedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scan",
		Subsystem: "timeout",
		Name:      "exhausted_total",
		Help:      "Total number of progressive operations that exhausted every budget",
	},
	[]string{"label"},
)

// cancellationsTotal counts attempts ended through Cancel (reason "handle")
// or CancelAll (reason "all").
var cancellationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scan",
		Subsystem: "timeout",
		Name:      "cancellations_total",
		Help:      "Total number of attempts cancelled by callers",
	},
	[]string{"reason"},
)

var inflight = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scan",
		Subsystem: "timeout",
		Name:      "inflight",
		Help:      "Number of attempts currently running",
	},
)

var attemptDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scan",
		Subsystem: "timeout",
		Name:      "attempt_duration_seconds",
		Help:      "Wall-clock duration of settled attempts",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), //nolint:mnd
	},
	[]string{"label"},
)
