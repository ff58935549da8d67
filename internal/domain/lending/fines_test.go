package lending_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

// borrowOverdue opens a loan and moves the clock past its due date by the
// given number of days. Student loan period is 14 days.
func borrowOverdue(t *testing.T, e *env, daysOver int) (*lending.Loan, patrons.Patron) {
	t.Helper()
	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	loan, err := e.svc.Borrow(context.Background(), item.ID, reader.ID, nil)
	require.NoError(t, err)
	e.advanceDays(14 + daysOver)
	return loan, reader
}

func TestReturn_LateComputesDebt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Borrow on day 0, due day 14, returned day 20 at 1.00/day: debt 6.00.
	loan, reader := borrowOverdue(t, e, 6)
	debt, err := e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), debt)

	closed, _ := e.store.Loan(loan.ID)
	assert.Equal(t, int64(600), closed.DebtCents)
}

func TestListFines_InsertsAndAccrues(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, reader := borrowOverdue(t, e, 5)

	fines, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, loan.ID, fines[0].LoanID)
	assert.Equal(t, int64(500), fines[0].AmountDueCents)
	assert.False(t, fines[0].Paid)

	// same-day reads never change the amount
	fines, err = e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(500), fines[0].AmountDueCents)

	// two more days of accrual
	e.advanceDays(2)
	fines, err = e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(700), fines[0].AmountDueCents)
}

func TestListFines_Monotonic_CappedAtMax(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, reader := borrowOverdue(t, e, 5)

	var prev int64
	for i := 0; i < 40; i++ {
		fines, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
		require.NoError(t, err)
		require.Len(t, fines, 1)
		due := fines[0].AmountDueCents
		assert.GreaterOrEqual(t, due, prev, "amount due never decreases")
		assert.LessOrEqual(t, due, int64(30*100), "amount due never exceeds the cap")
		prev = due
		e.advanceDays(1)
	}
	assert.Equal(t, int64(3000), prev)
}

func TestPayFine_PartialPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, reader := borrowOverdue(t, e, 6)
	_, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)

	balance, paid, err := e.svc.PayFine(ctx, loan.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
	assert.False(t, paid)

	balance, paid, err = e.svc.PayFine(ctx, loan.ID, 300)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.True(t, paid)

	// settled rows refuse further payments, the balance never goes negative
	_, _, err = e.svc.PayFine(ctx, loan.ID, 100)
	assert.Equal(t, lending.KindConflict, lending.KindOf(err))

	_, _, err = e.svc.PayFine(ctx, loan.ID, 0)
	assert.Equal(t, lending.KindValidation, lending.KindOf(err))

	_, _, err = e.svc.PayFine(ctx, 9999, 100)
	assert.Equal(t, lending.KindNotFound, lending.KindOf(err))
}

func TestPayFine_OverpaymentClamps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, reader := borrowOverdue(t, e, 4)
	_, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)

	balance, paid, err := e.svc.PayFine(ctx, loan.ID, 10_000)
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.True(t, paid)
}

func TestAccrual_PreservesPartialPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, reader := borrowOverdue(t, e, 5)
	_, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)

	_, _, err = e.svc.PayFine(ctx, loan.ID, 200)
	require.NoError(t, err)

	// one more day accrues one more daily rate on top of the reduced balance
	e.advanceDays(1)
	fines, err := e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, int64(400), fines[0].AmountDueCents)
	assert.Equal(t, int64(200), fines[0].PaidCents)
}

func TestReturn_DebtAccountsForPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, reader := borrowOverdue(t, e, 6)
	_, err := e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
	require.NoError(t, err)
	_, _, err = e.svc.PayFine(ctx, loan.ID, 250)
	require.NoError(t, err)

	debt, err := e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), debt)
}

func TestWaiveFine_PermanentlyExempts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	loan, _ := borrowOverdue(t, e, 5)
	_, err := e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
	require.NoError(t, err)

	require.NoError(t, e.svc.WaiveFine(ctx, loan.ID))

	// the loan stays open and overdue, yet the waived row never moves
	for i := 0; i < 5; i++ {
		e.advanceDays(1)
		fines, err := e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
		require.NoError(t, err)
		require.Len(t, fines, 1)
		assert.Zero(t, fines[0].AmountDueCents)
		assert.True(t, fines[0].Paid)
	}

	assert.Equal(t, lending.KindNotFound, lending.KindOf(e.svc.WaiveFine(ctx, 9999)))
}

func TestListFines_ClosedLateLoanGetsCappedRow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// 40 days late, returned before any reconciliation ran
	loan, reader := borrowOverdue(t, e, 40)
	_, err := e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)

	fines, err := e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, int64(3000), fines[0].AmountDueCents, "reconciler caps accrual at fine_cap_days")

	// closed loans never accrue further
	e.advanceDays(3)
	fines, err = e.svc.ListFines(ctx, lending.FineFilter{LoanID: loan.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), fines[0].AmountDueCents)
}

func TestListFines_NotOverdueProducesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	_, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)

	fines, err := e.svc.ListFines(ctx, lending.FineFilter{PatronID: reader.ID})
	require.NoError(t, err)
	assert.Empty(t, fines)
}
