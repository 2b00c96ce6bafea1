package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayCallbacks counts callbacks by kind (collection|payout) and
	// outcome (confirmed|failed|expired|duplicate|unknown|error).
	GatewayCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipme_gateway_callbacks_total",
		Help: "Gateway callbacks handled, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// LedgerPostings counts committed ledger entries by type.
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipme_ledger_postings_total",
		Help: "Ledger entries posted, by entry type.",
	}, []string{"entry_type"})

	// DuplicateEvents counts replayed external events suppressed by the
	// (reference, entry_type) idempotency boundary.
	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tipme_duplicate_events_total",
		Help: "External events discarded as already posted.",
	})

	// Withdrawals counts withdrawal lifecycle outcomes.
	Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipme_withdrawals_total",
		Help: "Withdrawal outcomes.",
	}, []string{"outcome"})
)
