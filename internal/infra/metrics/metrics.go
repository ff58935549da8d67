package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoansIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_loans_issued_total",
		Help: "Loans opened by borrow.",
	})
	LoansReturned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_loans_returned_total",
		Help: "Loans closed by return.",
	})
	HoldsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_holds_placed_total",
		Help: "Holds placed on specific units.",
	})
	HoldsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_holds_released_total",
		Help: "Holds canceled or swept.",
	})
	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "biblio_conflicts_total",
		Help: "Operations rejected with a conflict, by operation.",
	}, []string{"op"})
	FinePayments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_fine_payments_total",
		Help: "Fine payments recorded.",
	})
	FinesWaived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "biblio_fines_waived_total",
		Help: "Fine balances waived by staff.",
	})
)
