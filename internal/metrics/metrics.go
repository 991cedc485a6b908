package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	balanceSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "ledger",
			Name:      "balance_syncs_total",
			Help:      "Balance recomputations by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "earnings",
			Subsystem: "ledger",
			Name:      "balance_sync_duration_seconds",
			Help:      "Duration of a single user balance recomputation.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 12),
		},
		[]string{"trigger"},
	)

	driftCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "ledger",
			Name:      "drift_corrections_total",
			Help:      "Cached balances that differed from recomputation beyond tolerance.",
		},
	)

	negativeClamps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "ledger",
			Name:      "negative_balance_clamps_total",
			Help:      "Recomputations whose available balance was negative and clamped to zero.",
		},
	)

	bonusAwards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "bonus",
			Name:      "awards_total",
			Help:      "Referral bonus awards written.",
		},
	)

	payoutTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "payout",
			Name:      "transitions_total",
			Help:      "Payout request transitions by target state and result.",
		},
		[]string{"transition", "result"},
	)

	transferAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "transport",
			Name:      "transfer_attempts_total",
			Help:      "Calls to the external payout transport by outcome.",
		},
		[]string{"outcome"},
	)

	batchItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnings",
			Subsystem: "jobs",
			Name:      "batch_items_total",
			Help:      "Per-user batch job results.",
		},
		[]string{"job", "result"},
	)
)

func init() {
	Registry.MustRegister(
		balanceSyncs,
		syncDuration,
		driftCorrections,
		negativeClamps,
		bonusAwards,
		payoutTransitions,
		transferAttempts,
		batchItems,
	)
}

// Handler exposes the ledger registry over HTTP
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBalanceSync records one recomputation
func RecordBalanceSync(trigger string, started time.Time, err error) {
	balanceSyncs.WithLabelValues(trigger, result(err)).Inc()
	syncDuration.WithLabelValues(trigger).Observe(time.Since(started).Seconds())
}

// RecordDriftCorrection counts a corrected drift
func RecordDriftCorrection() {
	driftCorrections.Inc()
}

// RecordNegativeClamp counts a clamped negative balance
func RecordNegativeClamp() {
	negativeClamps.Inc()
}

// RecordBonusAwards counts newly written awards
func RecordBonusAwards(n int) {
	bonusAwards.Add(float64(n))
}

// RecordPayoutTransition records a payout state machine call
func RecordPayoutTransition(transition string, err error) {
	payoutTransitions.WithLabelValues(transition, result(err)).Inc()
}

// RecordTransferAttempt records one transport call outcome
func RecordTransferAttempt(outcome string) {
	transferAttempts.WithLabelValues(outcome).Inc()
}

// RecordBatchItem records a per-user batch result: ok, failed or skipped
func RecordBatchItem(job, outcome string) {
	batchItems.WithLabelValues(job, outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
