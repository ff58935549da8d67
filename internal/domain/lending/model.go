package lending

import "time"

// Loan is one open or closed borrowing of a unit. A loan is open while
// ReturnedAt is nil; closed loans are never deleted.
type Loan struct {
	ID          int64
	PatronID    int64
	UnitID      int64
	ItemID      int64
	BorrowedAt  time.Time
	DueAt       time.Time
	ReturnedAt  *time.Time
	RenewedAt   *time.Time
	ProcessedBy *int64 // staff who handled the transaction, if any
	DebtCents   int64  // snapshot written at return
}

func (l Loan) Open() bool { return l.ReturnedAt == nil }

// Hold reserves one specific free unit for one patron: take a copy now,
// before anyone else can. It is not a queue behind the current borrower.
type Hold struct {
	ID          int64
	PatronID    int64
	UnitID      int64
	ItemID      int64
	HeldAt      time.Time
	ExpiresAt   time.Time
	CanceledAt  *time.Time
	FulfilledBy *int64 // loan that consumed the hold
}

// Active means not canceled and not fulfilled. Expiry is a read-time status;
// an expired hold still pins its unit until an explicit sweep runs.
func (h Hold) Active() bool { return h.CanceledAt == nil && h.FulfilledBy == nil }

func (h Hold) Expired(now time.Time) bool { return now.After(h.ExpiresAt) }

// WaitlistEntry is a pure queue position for an item with zero free units.
// No unit is reserved and no unit state changes on enqueue.
type WaitlistEntry struct {
	ID          int64
	PatronID    int64
	ItemID      int64
	QueuedAt    time.Time
	CanceledAt  *time.Time
	FulfilledBy *int64 // hold created by promotion
}

func (w WaitlistEntry) Open() bool { return w.CanceledAt == nil && w.FulfilledBy == nil }

// Fine is the financial ledger row tied 1:1 to a loan. AmountDueCents is the
// outstanding balance; PaidCents accumulates payments so the return path can
// tell how much was already settled.
type Fine struct {
	ID             int64
	LoanID         int64
	PatronID       int64
	AmountDueCents int64
	PaidCents      int64
	Paid           bool
	LastComputedAt time.Time
}

// FineFilter narrows fine listing/reconciliation. Zero fields mean "all".
type FineFilter struct {
	PatronID int64
	LoanID   int64
}
