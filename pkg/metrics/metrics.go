// Package metrics defines the Prometheus collectors shared by the bank and
// gateway nodes. RPC-level metrics come from go-grpc-prometheus; the
// collectors here cover the payment protocol itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "interbank"

var (
	// PaymentsTotal counts coordinated payments by outcome:
	// committed, aborted, commit_failed or rejected.
	PaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Coordinated payments by outcome.",
	}, []string{"outcome"})

	// PaymentDuration observes end-to-end coordination latency.
	PaymentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payment_duration_seconds",
		Help:      "End-to-end payment coordination latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// PrepareVotes counts prepare-phase votes as seen by the coordinator.
	PrepareVotes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prepare_votes_total",
		Help:      "Prepare votes collected by the coordinator.",
	}, []string{"bank", "vote"})

	// CommitPhaseFailures counts payments that failed after the commit
	// decision. Each one leaves participant state the operator must
	// reconcile by hand.
	CommitPhaseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_phase_failures_total",
		Help:      "Payments that failed after the commit decision.",
	})

	// PreparedEntries tracks the reservations currently held by one bank.
	PreparedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "prepared_entries",
		Help:      "Reservations currently held by this bank.",
	})

	// OfflineQueueDrops counts queued client payments dropped after retry
	// exhaustion.
	OfflineQueueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offline_queue_drops_total",
		Help:      "Queued payments dropped after retry exhaustion.",
	})
)

func init() {
	prometheus.MustRegister(
		PaymentsTotal,
		PaymentDuration,
		PrepareVotes,
		CommitPhaseFailures,
		PreparedEntries,
		OfflineQueueDrops,
	)
}
