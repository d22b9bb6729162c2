// Package metrics holds the Prometheus collectors of the bookkeeping core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Posting outcomes.
const (
	OutcomePosted   = "posted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ─── Posting ────────────────────────────────────────────────────────────────

// Postings counts Post calls by transaction kind and outcome.
var Postings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "books",
	Name:      "postings_total",
	Help:      "Total posting attempts by kind and outcome (posted, rejected, failed).",
}, []string{"kind", "outcome"})

// PostingDuration tracks how long a Post call takes, lock waits included.
var PostingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "books",
	Name:      "posting_duration_seconds",
	Help:      "Duration of Post calls in seconds.",
	Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
}, []string{"kind"})

// ─── Ledgers ────────────────────────────────────────────────────────────────

// LedgerReads counts ledger reconstructions by ledger type.
var LedgerReads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "books",
	Name:      "ledger_reads_total",
	Help:      "Total ledger reconstructions by ledger (account, party, stock).",
}, []string{"ledger"})

// ReconcileDiscrepancies is the number of entities the last reconciliation flagged.
var ReconcileDiscrepancies = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "books",
	Name:      "reconcile_discrepancies",
	Help:      "Entities whose cached balance did not match the replayed log at the last reconciliation.",
})
