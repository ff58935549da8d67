package lending

import (
	"context"
	"time"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

// Store is the persistence port of the engine. Every mutating operation runs
// inside exactly one WithinTx call; nothing a callback writes is visible to
// other callers before the callback returns nil.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one transaction. Implementations must serialize select-then-write on
// a unit: SelectAvailableUnit locks the returned row until commit, so two
// concurrent borrowers cannot both take the last copy.
type Tx interface {
	ItemExists(ctx context.Context, itemID int64) (bool, error)

	// PatronRole returns "" when the patron does not exist.
	PatronRole(ctx context.Context, patronID int64) (patrons.Role, error)

	// SelectAvailableUnit returns a locked Available unit of the item, or
	// nil when none is free.
	SelectAvailableUnit(ctx context.Context, itemID int64) (*catalog.Unit, error)
	UnitByID(ctx context.Context, unitID int64) (*catalog.Unit, error)
	CountAvailableUnits(ctx context.Context, itemID int64) (int, error)

	// SetUnitState moves a unit to the target state, guarded by the allowed
	// predecessor states; reports false when the unit was not in one of them.
	SetUnitState(ctx context.Context, unitID int64, to catalog.UnitState) (bool, error)

	InsertLoan(ctx context.Context, loan *Loan) error
	LoanByID(ctx context.Context, loanID int64) (*Loan, error)
	// OpenLoan returns nil when the loan is absent or already closed.
	OpenLoan(ctx context.Context, loanID int64) (*Loan, error)
	CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, processedBy int64, debtCents int64) (bool, error)
	RenewLoan(ctx context.Context, loanID int64, newDue, renewedAt time.Time) (bool, error)

	InsertHold(ctx context.Context, hold *Hold) error
	HoldByID(ctx context.Context, holdID int64) (*Hold, error)
	ActiveHoldForPatronItem(ctx context.Context, patronID, itemID int64) (*Hold, error)
	CancelHold(ctx context.Context, holdID int64, canceledAt time.Time) (bool, error)
	FulfillHold(ctx context.Context, holdID, loanID int64) (bool, error)
	// ExpiredHoldIDs lists active holds whose expiry passed before now.
	ExpiredHoldIDs(ctx context.Context, now time.Time) ([]int64, error)

	InsertWaitlistEntry(ctx context.Context, entry *WaitlistEntry) error
	WaitlistEntryByID(ctx context.Context, entryID int64) (*WaitlistEntry, error)
	OldestOpenWaitlistEntry(ctx context.Context, itemID int64) (*WaitlistEntry, error)
	CancelWaitlistEntry(ctx context.Context, entryID int64, canceledAt time.Time) (bool, error)
	FulfillWaitlistEntry(ctx context.Context, entryID, holdID int64) (bool, error)

	// FineByLoan locks the row (when the backend has row locks) so two
	// concurrent payments cannot lose an update.
	FineByLoan(ctx context.Context, loanID int64) (*Fine, error)
	InsertFine(ctx context.Context, fine *Fine) error
	UpdateFine(ctx context.Context, fine *Fine) (bool, error)
	ListFines(ctx context.Context, filter FineFilter) ([]Fine, error)

	// ReconcilableLoanIDs lists loans that are open and overdue, or were
	// returned after their due date, narrowed by filter.
	ReconcilableLoanIDs(ctx context.Context, now time.Time, filter FineFilter) ([]int64, error)
}
