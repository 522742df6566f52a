// Package metrics registers the per-iteration Prometheus metrics this
// module emits, grounded on the teacher's pkg/batcher/metrics.go idiom of
// one metric per named operation with a "worker_type" label, stripped of
// its controller-runtime registry dependency since this module has no
// manager/webhook surface to attach the default registry to — see
// DESIGN.md.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "provisioner"

// Registry is the private registry this module's metrics are registered
// against. Nothing in this module serves it over HTTP; cmd/provisioner
// only logs that it is ready, and tests may ignore it entirely.
var Registry = prometheus.NewRegistry()

var (
	BidsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidder",
		Name:      "bids_submitted_total",
		Help:      "Spot bids submitted, by worker type.",
	}, []string{"worker_type"})

	KillsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bidder",
		Name:      "kills_issued_total",
		Help:      "Terminations/cancellations issued, by worker type and kind.",
	}, []string{"worker_type", "kind"})

	CapacityObserved = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bidder",
		Name:      "capacity_observed",
		Help:      "Current provisioned capacity, by worker type.",
	}, []string{"worker_type"})

	IterationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "iteration_duration_seconds",
		Help:      "Wall-clock duration of one reconciliation iteration.",
		Buckets:   prometheus.DefBuckets,
	})

	IterationsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "iterations_skipped_total",
		Help:      "Iterations skipped due to a transient snapshot-refresh failure.",
	})
)

func init() {
	Registry.MustRegister(BidsSubmitted, KillsIssued, CapacityObserved, IterationDuration, IterationsSkipped)
}
