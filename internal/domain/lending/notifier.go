package lending

import "context"

// Notifier receives circulation events after a successful commit. Calls are
// fire-and-forget: implementations log their own failures and must never
// influence the outcome of the operation that produced the event.
type Notifier interface {
	LoanCreated(ctx context.Context, loan Loan, lastCopy bool)
	LoanReturned(ctx context.Context, loan Loan, debtCents int64)
	HoldPlaced(ctx context.Context, hold Hold)
	HoldCanceled(ctx context.Context, hold Hold)
}

type NopNotifier struct{}

func (NopNotifier) LoanCreated(context.Context, Loan, bool)   {}
func (NopNotifier) LoanReturned(context.Context, Loan, int64) {}
func (NopNotifier) HoldPlaced(context.Context, Hold)          {}
func (NopNotifier) HoldCanceled(context.Context, Hold)        {}
