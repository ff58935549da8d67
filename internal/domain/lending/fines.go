package lending

import (
	"context"
	"time"
)

// midnight truncates to the calendar day in t's location; overdue counts are
// whole days, partial days never accrue.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysLate(due, at time.Time) int {
	days := int(midnight(at).Sub(midnight(due)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func sameDay(a, b time.Time) bool { return midnight(a).Equal(midnight(b)) }

// ListFines reconciles and returns fine rows matching the filter. There is
// no background accrual: fines are only as fresh as the read that triggered
// this call. Reconciliation is best-effort per loan; one loan failing does
// not block the rest.
func (s *Service) ListFines(ctx context.Context, filter FineFilter) ([]Fine, error) {
	rules, err := s.policy.Rules(ctx)
	if err != nil {
		return nil, internal("load lending rules", err)
	}
	now := s.now()

	var loanIDs []int64
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		loanIDs, err = tx.ReconcilableLoanIDs(ctx, now, filter)
		return err
	})
	if err != nil {
		return nil, internal("reconcile scan", err)
	}

	for _, loanID := range loanIDs {
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			return reconcileLoan(ctx, tx, loanID, rules.DailyRateCents, rules.FineCapDays, now)
		})
		if err != nil {
			s.log.Warn("fine reconciliation failed", "loan_id", loanID, "err", err)
		}
	}

	var fines []Fine
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		fines, err = tx.ListFines(ctx, filter)
		return err
	})
	if err != nil {
		return nil, internal("fine listing", err)
	}
	return fines, nil
}

// reconcileLoan upserts the fine row of one loan:
//
//   - no row and positive capped accrual: insert it
//   - existing unpaid row of a still-open loan, not refreshed today: add only
//     the increment since the last refresh, so recorded payments survive
//   - paid rows and rows of closed loans: never touched
func reconcileLoan(ctx context.Context, tx Tx, loanID int64, rateCents int64, capDays int, now time.Time) error {
	loan, err := tx.LoanByID(ctx, loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return nil
	}
	end := now
	if loan.ReturnedAt != nil {
		end = *loan.ReturnedAt
	}
	overdue := daysLate(loan.DueAt, end)
	if overdue > capDays {
		overdue = capDays
	}

	fine, err := tx.FineByLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if fine == nil {
		if overdue <= 0 {
			return nil
		}
		return tx.InsertFine(ctx, &Fine{
			LoanID:         loanID,
			PatronID:       loan.PatronID,
			AmountDueCents: int64(overdue) * rateCents,
			LastComputedAt: now,
		})
	}
	if fine.Paid || !loan.Open() || sameDay(fine.LastComputedAt, now) {
		return nil
	}

	prev := daysLate(loan.DueAt, fine.LastComputedAt)
	if prev > capDays {
		prev = capDays
	}
	if delta := int64(overdue-prev) * rateCents; delta > 0 {
		fine.AmountDueCents += delta
	}
	fine.LastComputedAt = now
	_, err = tx.UpdateFine(ctx, fine)
	return err
}

// PayFine applies a partial or full payment under the fine row's lock.
func (s *Service) PayFine(ctx context.Context, loanID, amountCents int64) (newBalance int64, paidInFull bool, err error) {
	if amountCents <= 0 {
		return 0, false, validationf("payment amount must be positive")
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		fine, err := tx.FineByLoan(ctx, loanID)
		if err != nil {
			return internal("fine lookup", err)
		}
		if fine == nil {
			return notFoundf("no fine for loan %d", loanID)
		}
		if fine.Paid || fine.AmountDueCents == 0 {
			return conflictf("fine for loan %d is already settled", loanID)
		}
		pay := amountCents
		if pay > fine.AmountDueCents {
			pay = fine.AmountDueCents
		}
		fine.AmountDueCents -= pay
		fine.PaidCents += pay
		fine.Paid = fine.AmountDueCents == 0
		ok, err := tx.UpdateFine(ctx, fine)
		if err != nil {
			return internal("fine update", err)
		}
		if !ok {
			return notFoundf("fine for loan %d", loanID)
		}
		newBalance = fine.AmountDueCents
		paidInFull = fine.Paid
		return nil
	})
	return newBalance, paidInFull, err
}

// WaiveFine zeroes the balance and marks the row paid. Paid rows are never
// recomputed, so a waiver permanently exempts the loan from further accrual.
func (s *Service) WaiveFine(ctx context.Context, loanID int64) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		fine, err := tx.FineByLoan(ctx, loanID)
		if err != nil {
			return internal("fine lookup", err)
		}
		if fine == nil {
			return notFoundf("no fine for loan %d", loanID)
		}
		fine.AmountDueCents = 0
		fine.Paid = true
		ok, err := tx.UpdateFine(ctx, fine)
		if err != nil {
			return internal("fine update", err)
		}
		if !ok {
			return notFoundf("fine for loan %d", loanID)
		}
		return nil
	})
}
