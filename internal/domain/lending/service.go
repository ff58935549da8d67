package lending

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/policy"
)

// Service is the lending engine: it allocates physical units to patrons,
// tracks holds and waitlists for contested items, returns units to
// circulation and reconciles overdue fines. Every mutating operation is one
// store transaction; a failure at any step rolls the whole operation back.
type Service struct {
	store    Store
	policy   policy.Provider
	log      *slog.Logger
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, rules policy.Provider, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policy:   rules,
		log:      log,
		notifier: NopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithClock injects the time source; tests use it to move days forward.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Borrow allocates an Available unit of the item to the patron and opens a
// loan due after the patron's role loan period. If the patron already holds
// an active hold on a unit of this item, that unit is used and the hold is
// fulfilled; otherwise any Available unit may be chosen, in no particular
// order.
func (s *Service) Borrow(ctx context.Context, itemID, patronID int64, staffID *int64) (*Loan, error) {
	if itemID <= 0 || patronID <= 0 {
		return nil, validationf("item id and patron id are required")
	}
	rules, err := s.policy.Rules(ctx)
	if err != nil {
		return nil, internal("load lending rules", err)
	}

	var (
		loan     *Loan
		lastCopy bool
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		ok, err := tx.ItemExists(ctx, itemID)
		if err != nil {
			return internal("item lookup", err)
		}
		if !ok {
			return notFoundf("item %d", itemID)
		}
		role, err := tx.PatronRole(ctx, patronID)
		if err != nil {
			return internal("patron lookup", err)
		}
		if role == "" {
			return notFoundf("patron %d", patronID)
		}
		loanDays, err := rules.LoanDaysFor(role)
		if err != nil {
			return validationf("%v", err)
		}

		hold, err := tx.ActiveHoldForPatronItem(ctx, patronID, itemID)
		if err != nil {
			return internal("hold lookup", err)
		}
		var unit *catalog.Unit
		if hold != nil {
			unit, err = tx.UnitByID(ctx, hold.UnitID)
			if err != nil {
				return internal("unit lookup", err)
			}
		} else {
			unit, err = tx.SelectAvailableUnit(ctx, itemID)
			if err != nil {
				return internal("unit selection", err)
			}
			if unit == nil {
				return conflictf("no available copies of item %d", itemID)
			}
		}

		now := s.now()
		l := &Loan{
			PatronID:    patronID,
			UnitID:      unit.ID,
			ItemID:      itemID,
			BorrowedAt:  now,
			DueAt:       now.AddDate(0, 0, loanDays),
			ProcessedBy: staffID,
		}
		if err := tx.InsertLoan(ctx, l); err != nil {
			return conflictf("loan insert failed: %v", err)
		}
		if hold != nil {
			ok, err := tx.FulfillHold(ctx, hold.ID, l.ID)
			if err != nil {
				return internal("hold fulfillment", err)
			}
			if !ok {
				return conflictf("hold %d is no longer active", hold.ID)
			}
		}
		ok, err = tx.SetUnitState(ctx, unit.ID, catalog.UnitBorrowed)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d is not lendable", unit.ID)
		}

		remaining, err := tx.CountAvailableUnits(ctx, itemID)
		if err != nil {
			return internal("availability count", err)
		}
		lastCopy = remaining == 0
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.LoanCreated(ctx, *loan, lastCopy)
	return loan, nil
}

// Return closes an open loan, computes the debt snapshot and frees the unit.
// Self-service returns are allowed only for the loan's own patron; staff may
// return anything.
func (s *Service) Return(ctx context.Context, loanID, actingID int64) (int64, error) {
	rules, err := s.policy.Rules(ctx)
	if err != nil {
		return 0, internal("load lending rules", err)
	}

	var (
		closed Loan
		debt   int64
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		loan, err := tx.OpenLoan(ctx, loanID)
		if err != nil {
			return internal("loan lookup", err)
		}
		if loan == nil {
			return notFoundf("open loan %d", loanID)
		}
		role, err := tx.PatronRole(ctx, actingID)
		if err != nil {
			return internal("actor lookup", err)
		}
		if role == "" || (actingID != loan.PatronID && !role.IsStaff()) {
			return unauthorizedf("patron %d may not return loan %d", actingID, loanID)
		}

		now := s.now()
		// Uncapped at return; the reconciler applies the cap to accrual.
		fine := int64(daysLate(loan.DueAt, now)) * rules.DailyRateCents
		var alreadyPaid int64
		if f, err := tx.FineByLoan(ctx, loanID); err != nil {
			return internal("fine lookup", err)
		} else if f != nil {
			alreadyPaid = f.PaidCents
		}
		debt = fine - alreadyPaid
		if debt < 0 {
			debt = 0
		}

		ok, err := tx.CloseLoan(ctx, loanID, now, actingID, debt)
		if err != nil {
			return internal("loan close", err)
		}
		if !ok {
			return notFoundf("open loan %d", loanID)
		}
		ok, err = tx.SetUnitState(ctx, loan.UnitID, catalog.UnitAvailable)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d cannot be released", loan.UnitID)
		}
		closed = *loan
		closed.ReturnedAt = &now
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifier.LoanReturned(ctx, closed, debt)
	return debt, nil
}

// Renew overwrites the due date of an open loan and stamps the renewal date.
// There is no renewal-count cap here.
func (s *Service) Renew(ctx context.Context, loanID int64, newDue time.Time) error {
	if newDue.IsZero() {
		return validationf("new due date is required")
	}
	return s.store.WithinTx(ctx, func(tx Tx) error {
		ok, err := tx.RenewLoan(ctx, loanID, newDue, s.now())
		if err != nil {
			return internal("loan renew", err)
		}
		if !ok {
			return notFoundf("open loan %d", loanID)
		}
		return nil
	})
}

// Hold reserves a specific currently-Available unit for the patron until the
// role hold period runs out.
func (s *Service) Hold(ctx context.Context, itemID, patronID int64) (*Hold, error) {
	if itemID <= 0 || patronID <= 0 {
		return nil, validationf("item id and patron id are required")
	}
	rules, err := s.policy.Rules(ctx)
	if err != nil {
		return nil, internal("load lending rules", err)
	}

	var hold *Hold
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		ok, err := tx.ItemExists(ctx, itemID)
		if err != nil {
			return internal("item lookup", err)
		}
		if !ok {
			return notFoundf("item %d", itemID)
		}
		role, err := tx.PatronRole(ctx, patronID)
		if err != nil {
			return internal("patron lookup", err)
		}
		if role == "" {
			return notFoundf("patron %d", patronID)
		}
		holdDays, err := rules.HoldDaysFor(role)
		if err != nil {
			return validationf("%v", err)
		}

		unit, err := tx.SelectAvailableUnit(ctx, itemID)
		if err != nil {
			return internal("unit selection", err)
		}
		if unit == nil {
			return conflictf("no available copies of item %d", itemID)
		}

		now := s.now()
		h := &Hold{
			PatronID:  patronID,
			UnitID:    unit.ID,
			ItemID:    itemID,
			HeldAt:    now,
			ExpiresAt: now.AddDate(0, 0, holdDays),
		}
		if err := tx.InsertHold(ctx, h); err != nil {
			return conflictf("hold insert failed: %v", err)
		}
		ok, err = tx.SetUnitState(ctx, unit.ID, catalog.UnitHeld)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d is not holdable", unit.ID)
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.HoldPlaced(ctx, *hold)
	return hold, nil
}

// CancelHold stamps the hold canceled and returns its own unit to Available
// in the same transaction. Either both happen or neither does.
func (s *Service) CancelHold(ctx context.Context, holdID, actingID int64) error {
	var canceled Hold
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		hold, err := tx.HoldByID(ctx, holdID)
		if err != nil {
			return internal("hold lookup", err)
		}
		if hold == nil {
			return notFoundf("hold %d", holdID)
		}
		role, err := tx.PatronRole(ctx, actingID)
		if err != nil {
			return internal("actor lookup", err)
		}
		if role == "" || (actingID != hold.PatronID && !role.IsStaff()) {
			return unauthorizedf("patron %d may not cancel hold %d", actingID, holdID)
		}
		now := s.now()
		ok, err := tx.CancelHold(ctx, holdID, now)
		if err != nil {
			return internal("hold cancel", err)
		}
		if !ok {
			return conflictf("hold %d is not active", holdID)
		}
		ok, err = tx.SetUnitState(ctx, hold.UnitID, catalog.UnitAvailable)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d cannot be released", hold.UnitID)
		}
		canceled = *hold
		canceled.CanceledAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.HoldCanceled(ctx, canceled)
	return nil
}

// Waitlist queues the patron for an item with zero free units. Nothing is
// reserved and no unit changes state.
func (s *Service) Waitlist(ctx context.Context, itemID, patronID int64) (*WaitlistEntry, error) {
	if itemID <= 0 || patronID <= 0 {
		return nil, validationf("item id and patron id are required")
	}
	var entry *WaitlistEntry
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		ok, err := tx.ItemExists(ctx, itemID)
		if err != nil {
			return internal("item lookup", err)
		}
		if !ok {
			return notFoundf("item %d", itemID)
		}
		role, err := tx.PatronRole(ctx, patronID)
		if err != nil {
			return internal("patron lookup", err)
		}
		if role == "" {
			return notFoundf("patron %d", patronID)
		}
		free, err := tx.CountAvailableUnits(ctx, itemID)
		if err != nil {
			return internal("availability count", err)
		}
		if free > 0 {
			return conflictf("item %d has free copies, place a hold instead", itemID)
		}
		e := &WaitlistEntry{PatronID: patronID, ItemID: itemID, QueuedAt: s.now()}
		if err := tx.InsertWaitlistEntry(ctx, e); err != nil {
			return internal("waitlist insert", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CancelWaitlist stamps a queue entry canceled.
func (s *Service) CancelWaitlist(ctx context.Context, entryID, actingID int64) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		entry, err := tx.WaitlistEntryByID(ctx, entryID)
		if err != nil {
			return internal("waitlist lookup", err)
		}
		if entry == nil {
			return notFoundf("waitlist entry %d", entryID)
		}
		role, err := tx.PatronRole(ctx, actingID)
		if err != nil {
			return internal("actor lookup", err)
		}
		if role == "" || (actingID != entry.PatronID && !role.IsStaff()) {
			return unauthorizedf("patron %d may not cancel waitlist entry %d", actingID, entryID)
		}
		ok, err := tx.CancelWaitlistEntry(ctx, entryID, s.now())
		if err != nil {
			return internal("waitlist cancel", err)
		}
		if !ok {
			return conflictf("waitlist entry %d is not open", entryID)
		}
		return nil
	})
}

// PromoteWaitlist converts the oldest open waitlist entry of the item into a
// hold on a free unit. Intended for an external scheduler/notifier to call
// after returns; nothing invokes it automatically.
func (s *Service) PromoteWaitlist(ctx context.Context, itemID int64) (*Hold, error) {
	rules, err := s.policy.Rules(ctx)
	if err != nil {
		return nil, internal("load lending rules", err)
	}

	var hold *Hold
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		entry, err := tx.OldestOpenWaitlistEntry(ctx, itemID)
		if err != nil {
			return internal("waitlist lookup", err)
		}
		if entry == nil {
			return notFoundf("no open waitlist entries for item %d", itemID)
		}
		unit, err := tx.SelectAvailableUnit(ctx, itemID)
		if err != nil {
			return internal("unit selection", err)
		}
		if unit == nil {
			return conflictf("no available copies of item %d", itemID)
		}
		role, err := tx.PatronRole(ctx, entry.PatronID)
		if err != nil {
			return internal("patron lookup", err)
		}
		if role == "" {
			return notFoundf("patron %d", entry.PatronID)
		}
		holdDays, err := rules.HoldDaysFor(role)
		if err != nil {
			return validationf("%v", err)
		}

		now := s.now()
		h := &Hold{
			PatronID:  entry.PatronID,
			UnitID:    unit.ID,
			ItemID:    itemID,
			HeldAt:    now,
			ExpiresAt: now.AddDate(0, 0, holdDays),
		}
		if err := tx.InsertHold(ctx, h); err != nil {
			return conflictf("hold insert failed: %v", err)
		}
		ok, err := tx.FulfillWaitlistEntry(ctx, entry.ID, h.ID)
		if err != nil {
			return internal("waitlist fulfillment", err)
		}
		if !ok {
			return conflictf("waitlist entry %d is no longer open", entry.ID)
		}
		ok, err = tx.SetUnitState(ctx, unit.ID, catalog.UnitHeld)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d is not holdable", unit.ID)
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.HoldPlaced(ctx, *hold)
	return hold, nil
}

// SweepExpiredHolds cancels every active hold whose expiry has passed and
// frees its unit. Each hold is its own transaction; one failure does not stop
// the sweep. Returns the number of holds released.
func (s *Service) SweepExpiredHolds(ctx context.Context) (int, error) {
	now := s.now()
	var ids []int64
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		ids, err = tx.ExpiredHoldIDs(ctx, now)
		return err
	})
	if err != nil {
		return 0, internal("expired hold scan", err)
	}

	released := 0
	for _, id := range ids {
		var did bool
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			hold, err := tx.HoldByID(ctx, id)
			if err != nil {
				return err
			}
			if hold == nil || !hold.Active() || !hold.Expired(now) {
				return nil // raced with cancel/fulfill, nothing to do
			}
			if ok, err := tx.CancelHold(ctx, id, now); err != nil || !ok {
				return err
			}
			if ok, err := tx.SetUnitState(ctx, hold.UnitID, catalog.UnitAvailable); err != nil {
				return err
			} else if !ok {
				return conflictf("unit %d cannot be released", hold.UnitID)
			}
			did = true
			return nil
		})
		if err != nil {
			s.log.Warn("hold sweep failed", "hold_id", id, "err", err)
			continue
		}
		if did {
			released++
		}
	}
	return released, nil
}

// SetMaintenance toggles a unit between Available and Maintenance. Held and
// Borrowed units are never touched.
func (s *Service) SetMaintenance(ctx context.Context, unitID int64, on bool) error {
	target := catalog.UnitMaintenance
	if !on {
		target = catalog.UnitAvailable
	}
	return s.store.WithinTx(ctx, func(tx Tx) error {
		unit, err := tx.UnitByID(ctx, unitID)
		if err != nil {
			return internal("unit lookup", err)
		}
		if unit == nil {
			return notFoundf("unit %d", unitID)
		}
		if !catalog.CanTransition(unit.State, target) {
			return conflictf("unit %d is %s, cannot move to %s", unitID, unit.State, target)
		}
		ok, err := tx.SetUnitState(ctx, unitID, target)
		if err != nil {
			return internal("unit state", err)
		}
		if !ok {
			return conflictf("unit %d changed state concurrently", unitID)
		}
		return nil
	})
}
