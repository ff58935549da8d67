package lending_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
	"github.com/Spok95/biblio-bot/internal/domain/policy"
	"github.com/Spok95/biblio-bot/internal/store/memory"
)

type env struct {
	store *memory.Store
	svc   *lending.Service

	mu  sync.Mutex
	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store: memory.NewStore(),
		now:   time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	rules := policy.Static{R: policy.Rules{
		DailyRateCents: 100,
		FineCapDays:    30,
		LoanDays: map[patrons.Role]int{
			patrons.RoleStudent: 14,
			patrons.RoleFaculty: 30,
			patrons.RoleStaff:   30,
		},
		HoldDays: map[patrons.Role]int{
			patrons.RoleStudent: 3,
			patrons.RoleFaculty: 7,
			patrons.RoleStaff:   7,
		},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = lending.NewService(e.store, rules, log, lending.WithClock(e.clock))
	return e
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advanceDays(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.AddDate(0, 0, n)
}

func kindOf(err error) lending.Kind { return lending.KindOf(err) }

func TestBorrow_ConcurrentExclusivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	const copies = 3
	for i := 0; i < copies; i++ {
		e.store.AddUnit(item.ID)
	}
	borrowers := make([]patrons.Patron, copies+1)
	for i := range borrowers {
		borrowers[i] = e.store.AddPatron(patrons.RoleStudent, "reader")
	}

	type result struct {
		loan *lending.Loan
		err  error
	}
	results := make([]result, len(borrowers))
	var wg sync.WaitGroup
	for i, p := range borrowers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loan, err := e.svc.Borrow(ctx, item.ID, p.ID, nil)
			results[i] = result{loan, err}
		}()
	}
	wg.Wait()

	units := map[int64]bool{}
	conflicts := 0
	for _, r := range results {
		if r.err != nil {
			assert.Equal(t, lending.KindConflict, kindOf(r.err))
			conflicts++
			continue
		}
		assert.False(t, units[r.loan.UnitID], "unit %d allocated twice", r.loan.UnitID)
		units[r.loan.UnitID] = true
	}
	assert.Len(t, units, copies)
	assert.Equal(t, 1, conflicts)
}

func TestBorrowReturn_RoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Solaris")
	unit := e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, loan.UnitID)
	assert.Equal(t, e.clock().AddDate(0, 0, 14), loan.DueAt)

	got, ok := e.store.Unit(unit.ID)
	require.True(t, ok)
	assert.Equal(t, catalog.UnitBorrowed, got.State)

	debt, err := e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)
	assert.Zero(t, debt)

	got, _ = e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitAvailable, got.State)

	closed, ok := e.store.Loan(loan.ID)
	require.True(t, ok)
	require.NotNil(t, closed.ReturnedAt)

	_, err = e.svc.Return(ctx, loan.ID, reader.ID)
	assert.Equal(t, lending.KindNotFound, kindOf(err))
}

func TestBorrow_Failures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	_, err := e.svc.Borrow(ctx, 9999, reader.ID, nil)
	assert.Equal(t, lending.KindNotFound, kindOf(err))

	_, err = e.svc.Borrow(ctx, item.ID, 9999, nil)
	assert.Equal(t, lending.KindNotFound, kindOf(err))

	// no units at all
	_, err = e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	assert.Equal(t, lending.KindConflict, kindOf(err))

	_, err = e.svc.Borrow(ctx, 0, reader.ID, nil)
	assert.Equal(t, lending.KindValidation, kindOf(err))
}

func TestReturn_Authorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	other := e.store.AddPatron(patrons.RoleStudent, "other")
	librarian := e.store.AddPatron(patrons.RoleStaff, "librarian")

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)

	_, err = e.svc.Return(ctx, loan.ID, other.ID)
	assert.Equal(t, lending.KindUnauthorized, kindOf(err))

	// the failed attempt must not have touched the loan
	open, ok := e.store.Loan(loan.ID)
	require.True(t, ok)
	assert.Nil(t, open.ReturnedAt)

	_, err = e.svc.Return(ctx, loan.ID, librarian.ID)
	require.NoError(t, err)

	closed, _ := e.store.Loan(loan.ID)
	require.NotNil(t, closed.ProcessedBy)
	assert.Equal(t, librarian.ID, *closed.ProcessedBy)
}

func TestRenew(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)

	newDue := loan.DueAt.AddDate(0, 0, 7)
	require.NoError(t, e.svc.Renew(ctx, loan.ID, newDue))

	renewed, _ := e.store.Loan(loan.ID)
	assert.Equal(t, newDue, renewed.DueAt)
	assert.NotNil(t, renewed.RenewedAt)

	assert.Equal(t, lending.KindValidation, kindOf(e.svc.Renew(ctx, loan.ID, time.Time{})))

	_, err = e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.KindNotFound, kindOf(e.svc.Renew(ctx, loan.ID, newDue)))
}

func TestHold_ConcurrentLastCopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	p1 := e.store.AddPatron(patrons.RoleStudent, "p1")
	p2 := e.store.AddPatron(patrons.RoleStudent, "p2")

	type result struct {
		hold *lending.Hold
		err  error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i, p := range []patrons.Patron{p1, p2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := e.svc.Hold(ctx, item.ID, p.ID)
			results[i] = result{h, err}
		}()
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, r := range results {
		if r.err == nil {
			wins++
		} else {
			assert.Equal(t, lending.KindConflict, kindOf(r.err))
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestHold_CancelRestoresUnit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	unit := e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	hold, err := e.svc.Hold(ctx, item.ID, reader.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, hold.UnitID)
	assert.Equal(t, e.clock().AddDate(0, 0, 3), hold.ExpiresAt)

	got, _ := e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitHeld, got.State)

	require.NoError(t, e.svc.CancelHold(ctx, hold.ID, reader.ID))

	got, _ = e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitAvailable, got.State)
	canceled, ok := e.store.Hold(hold.ID)
	require.True(t, ok)
	assert.NotNil(t, canceled.CanceledAt)

	// double cancel
	assert.Equal(t, lending.KindConflict, kindOf(e.svc.CancelHold(ctx, hold.ID, reader.ID)))
}

func TestHold_CancelAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	other := e.store.AddPatron(patrons.RoleStudent, "other")
	librarian := e.store.AddPatron(patrons.RoleStaff, "librarian")

	hold, err := e.svc.Hold(ctx, item.ID, reader.ID)
	require.NoError(t, err)

	assert.Equal(t, lending.KindUnauthorized, kindOf(e.svc.CancelHold(ctx, hold.ID, other.ID)))
	require.NoError(t, e.svc.CancelHold(ctx, hold.ID, librarian.ID))
}

func TestBorrow_FulfillsOwnHold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	unit := e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	hold, err := e.svc.Hold(ctx, item.ID, reader.ID)
	require.NoError(t, err)

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, loan.UnitID, "borrow must take the held unit")

	fulfilled, _ := e.store.Hold(hold.ID)
	require.NotNil(t, fulfilled.FulfilledBy)
	assert.Equal(t, loan.ID, *fulfilled.FulfilledBy)

	got, _ := e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitBorrowed, got.State)
}

func TestHold_BlocksOtherBorrowers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	holder := e.store.AddPatron(patrons.RoleStudent, "holder")
	other := e.store.AddPatron(patrons.RoleStudent, "other")

	_, err := e.svc.Hold(ctx, item.ID, holder.ID)
	require.NoError(t, err)

	_, err = e.svc.Borrow(ctx, item.ID, other.ID, nil)
	assert.Equal(t, lending.KindConflict, kindOf(err))
}

func TestWaitlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	waiting := e.store.AddPatron(patrons.RoleStudent, "waiting")

	// free copies exist, the queue refuses
	_, err := e.svc.Waitlist(ctx, item.ID, waiting.ID)
	assert.Equal(t, lending.KindConflict, kindOf(err))

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)

	entry, err := e.svc.Waitlist(ctx, item.ID, waiting.ID)
	require.NoError(t, err)
	assert.True(t, entry.Open())

	// promotion needs a free unit
	_, err = e.svc.PromoteWaitlist(ctx, item.ID)
	assert.Equal(t, lending.KindConflict, kindOf(err))

	_, err = e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)

	hold, err := e.svc.PromoteWaitlist(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, waiting.ID, hold.PatronID)

	// the queue is empty now
	_, err = e.svc.PromoteWaitlist(ctx, item.ID)
	assert.Equal(t, lending.KindNotFound, kindOf(err))
}

func TestWaitlist_PromotionOrderAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")
	first := e.store.AddPatron(patrons.RoleStudent, "first")
	second := e.store.AddPatron(patrons.RoleStudent, "second")

	loan, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	require.NoError(t, err)

	e1, err := e.svc.Waitlist(ctx, item.ID, first.ID)
	require.NoError(t, err)
	e.advanceDays(1)
	_, err = e.svc.Waitlist(ctx, item.ID, second.ID)
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelWaitlist(ctx, e1.ID, first.ID))

	_, err = e.svc.Return(ctx, loan.ID, reader.ID)
	require.NoError(t, err)

	hold, err := e.svc.PromoteWaitlist(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, hold.PatronID, "canceled entries are skipped")
}

func TestSweepExpiredHolds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	unit := e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	hold, err := e.svc.Hold(ctx, item.ID, reader.ID)
	require.NoError(t, err)

	// not expired yet
	released, err := e.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	e.advanceDays(4) // student hold period is 3 days

	released, err = e.svc.SweepExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, _ := e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitAvailable, got.State)
	swept, _ := e.store.Hold(hold.ID)
	assert.NotNil(t, swept.CanceledAt)
}

func TestSetMaintenance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := e.store.AddItem(catalog.KindBook, "Dune")
	unit := e.store.AddUnit(item.ID)
	reader := e.store.AddPatron(patrons.RoleStudent, "reader")

	require.NoError(t, e.svc.SetMaintenance(ctx, unit.ID, true))
	got, _ := e.store.Unit(unit.ID)
	assert.Equal(t, catalog.UnitMaintenance, got.State)

	// no borrowing out of maintenance
	_, err := e.svc.Borrow(ctx, item.ID, reader.ID, nil)
	assert.Equal(t, lending.KindConflict, kindOf(err))

	require.NoError(t, e.svc.SetMaintenance(ctx, unit.ID, false))

	hold, err := e.svc.Hold(ctx, item.ID, reader.ID)
	require.NoError(t, err)

	// blocked while held
	assert.Equal(t, lending.KindConflict, kindOf(e.svc.SetMaintenance(ctx, unit.ID, true)))
	require.NoError(t, e.svc.CancelHold(ctx, hold.ID, reader.ID))

	assert.Equal(t, lending.KindNotFound, kindOf(e.svc.SetMaintenance(ctx, 9999, true)))
}
