// Package postgres implements the lending store port on pgx. Unit selection
// locks the chosen row (FOR UPDATE SKIP LOCKED), so two borrowers racing for
// the last copy are serialized by the database and exactly one wins.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

var _ lending.Store = (*Store)(nil)

type Store struct{ pool *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx lending.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txn struct{ tx pgx.Tx }

var _ lending.Tx = (*txn)(nil)

func (t *txn) ItemExists(ctx context.Context, itemID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM items WHERE id = $1 AND active)
	`, itemID).Scan(&ok)
	return ok, err
}

func (t *txn) PatronRole(ctx context.Context, patronID int64) (patrons.Role, error) {
	var role patrons.Role
	err := t.tx.QueryRow(ctx, `
		SELECT role FROM patrons WHERE id = $1 AND active
	`, patronID).Scan(&role)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return role, err
}

func (t *txn) SelectAvailableUnit(ctx context.Context, itemID int64) (*catalog.Unit, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, item_id, barcode, state, created_at
		FROM units
		WHERE item_id = $1 AND state = 'available'
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, itemID)
	var u catalog.Unit
	if err := row.Scan(&u.ID, &u.ItemID, &u.Barcode, &u.State, &u.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (t *txn) UnitByID(ctx context.Context, unitID int64) (*catalog.Unit, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, item_id, barcode, state, created_at
		FROM units WHERE id = $1
		FOR UPDATE
	`, unitID)
	var u catalog.Unit
	if err := row.Scan(&u.ID, &u.ItemID, &u.Barcode, &u.State, &u.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (t *txn) CountAvailableUnits(ctx context.Context, itemID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM units WHERE item_id = $1 AND state = 'available'
	`, itemID).Scan(&n)
	return n, err
}

func (t *txn) SetUnitState(ctx context.Context, unitID int64, to catalog.UnitState) (bool, error) {
	allowed := catalog.AllowedFrom(to)
	from := make([]string, len(allowed))
	for i, s := range allowed {
		from[i] = string(s)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE units SET state = $2 WHERE id = $1 AND state = ANY($3)
	`, unitID, string(to), from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) InsertLoan(ctx context.Context, loan *lending.Loan) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO loans (patron_id, unit_id, item_id, borrowed_at, due_at, processed_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, loan.PatronID, loan.UnitID, loan.ItemID, loan.BorrowedAt, loan.DueAt, loan.ProcessedBy).
		Scan(&loan.ID)
}

const loanColumns = `id, patron_id, unit_id, item_id, borrowed_at, due_at,
	returned_at, renewed_at, processed_by, debt_cents`

func scanLoan(row pgx.Row) (*lending.Loan, error) {
	var l lending.Loan
	err := row.Scan(&l.ID, &l.PatronID, &l.UnitID, &l.ItemID, &l.BorrowedAt, &l.DueAt,
		&l.ReturnedAt, &l.RenewedAt, &l.ProcessedBy, &l.DebtCents)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (t *txn) LoanByID(ctx context.Context, loanID int64) (*lending.Loan, error) {
	return scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
}

func (t *txn) OpenLoan(ctx context.Context, loanID int64) (*lending.Loan, error) {
	return scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 AND returned_at IS NULL FOR UPDATE`,
		loanID))
}

func (t *txn) CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, processedBy int64, debtCents int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE loans
		SET returned_at = $2, processed_by = $3, debt_cents = $4
		WHERE id = $1 AND returned_at IS NULL
	`, loanID, returnedAt, processedBy, debtCents)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) RenewLoan(ctx context.Context, loanID int64, newDue, renewedAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE loans
		SET due_at = $2, renewed_at = $3
		WHERE id = $1 AND returned_at IS NULL
	`, loanID, newDue, renewedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) InsertHold(ctx context.Context, hold *lending.Hold) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO holds (patron_id, unit_id, item_id, held_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, hold.PatronID, hold.UnitID, hold.ItemID, hold.HeldAt, hold.ExpiresAt).
		Scan(&hold.ID)
}

const holdColumns = `id, patron_id, unit_id, item_id, held_at, expires_at,
	canceled_at, fulfilled_by`

func scanHold(row pgx.Row) (*lending.Hold, error) {
	var h lending.Hold
	err := row.Scan(&h.ID, &h.PatronID, &h.UnitID, &h.ItemID, &h.HeldAt, &h.ExpiresAt,
		&h.CanceledAt, &h.FulfilledBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func (t *txn) HoldByID(ctx context.Context, holdID int64) (*lending.Hold, error) {
	return scanHold(t.tx.QueryRow(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, holdID))
}

func (t *txn) ActiveHoldForPatronItem(ctx context.Context, patronID, itemID int64) (*lending.Hold, error) {
	return scanHold(t.tx.QueryRow(ctx, `
		SELECT `+holdColumns+`
		FROM holds
		WHERE patron_id = $1 AND item_id = $2
		  AND canceled_at IS NULL AND fulfilled_by IS NULL
		ORDER BY held_at
		LIMIT 1
		FOR UPDATE
	`, patronID, itemID))
}

func (t *txn) CancelHold(ctx context.Context, holdID int64, canceledAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE holds SET canceled_at = $2
		WHERE id = $1 AND canceled_at IS NULL AND fulfilled_by IS NULL
	`, holdID, canceledAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) FulfillHold(ctx context.Context, holdID, loanID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE holds SET fulfilled_by = $2
		WHERE id = $1 AND canceled_at IS NULL AND fulfilled_by IS NULL
	`, holdID, loanID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) ExpiredHoldIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM holds
		WHERE canceled_at IS NULL AND fulfilled_by IS NULL AND expires_at < $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txn) InsertWaitlistEntry(ctx context.Context, entry *lending.WaitlistEntry) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO waitlist_entries (patron_id, item_id, queued_at)
		VALUES ($1,$2,$3)
		RETURNING id
	`, entry.PatronID, entry.ItemID, entry.QueuedAt).Scan(&entry.ID)
}

const entryColumns = `id, patron_id, item_id, queued_at, canceled_at, fulfilled_by`

func scanEntry(row pgx.Row) (*lending.WaitlistEntry, error) {
	var e lending.WaitlistEntry
	err := row.Scan(&e.ID, &e.PatronID, &e.ItemID, &e.QueuedAt, &e.CanceledAt, &e.FulfilledBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (t *txn) WaitlistEntryByID(ctx context.Context, entryID int64) (*lending.WaitlistEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1 FOR UPDATE`, entryID))
}

func (t *txn) OldestOpenWaitlistEntry(ctx context.Context, itemID int64) (*lending.WaitlistEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE item_id = $1 AND canceled_at IS NULL AND fulfilled_by IS NULL
		ORDER BY queued_at, id
		LIMIT 1
		FOR UPDATE
	`, itemID))
}

func (t *txn) CancelWaitlistEntry(ctx context.Context, entryID int64, canceledAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE waitlist_entries SET canceled_at = $2
		WHERE id = $1 AND canceled_at IS NULL AND fulfilled_by IS NULL
	`, entryID, canceledAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) FulfillWaitlistEntry(ctx context.Context, entryID, holdID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE waitlist_entries SET fulfilled_by = $2
		WHERE id = $1 AND canceled_at IS NULL AND fulfilled_by IS NULL
	`, entryID, holdID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const fineColumns = `id, loan_id, patron_id, amount_due_cents, paid_cents, paid, last_computed_at`

func scanFine(row pgx.Row) (*lending.Fine, error) {
	var f lending.Fine
	err := row.Scan(&f.ID, &f.LoanID, &f.PatronID, &f.AmountDueCents, &f.PaidCents, &f.Paid, &f.LastComputedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (t *txn) FineByLoan(ctx context.Context, loanID int64) (*lending.Fine, error) {
	return scanFine(t.tx.QueryRow(ctx,
		`SELECT `+fineColumns+` FROM fines WHERE loan_id = $1 FOR UPDATE`, loanID))
}

func (t *txn) InsertFine(ctx context.Context, fine *lending.Fine) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO fines (loan_id, patron_id, amount_due_cents, paid_cents, paid, last_computed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, fine.LoanID, fine.PatronID, fine.AmountDueCents, fine.PaidCents, fine.Paid, fine.LastComputedAt).
		Scan(&fine.ID)
}

func (t *txn) UpdateFine(ctx context.Context, fine *lending.Fine) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fines
		SET amount_due_cents = $2, paid_cents = $3, paid = $4, last_computed_at = $5
		WHERE id = $1
	`, fine.ID, fine.AmountDueCents, fine.PaidCents, fine.Paid, fine.LastComputedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txn) ListFines(ctx context.Context, filter lending.FineFilter) ([]lending.Fine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+fineColumns+`
		FROM fines
		WHERE ($1 = 0 OR patron_id = $1)
		  AND ($2 = 0 OR loan_id = $2)
		ORDER BY loan_id
	`, filter.PatronID, filter.LoanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lending.Fine
	for rows.Next() {
		var f lending.Fine
		if err := rows.Scan(&f.ID, &f.LoanID, &f.PatronID, &f.AmountDueCents, &f.PaidCents, &f.Paid, &f.LastComputedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *txn) ReconcilableLoanIDs(ctx context.Context, now time.Time, filter lending.FineFilter) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id FROM loans
		WHERE ($2 = 0 OR patron_id = $2)
		  AND ($3 = 0 OR id = $3)
		  AND (
			(returned_at IS NULL AND due_at < $1)
			OR (returned_at IS NOT NULL AND returned_at > due_at)
		  )
		ORDER BY id
	`, now, filter.PatronID, filter.LoanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
