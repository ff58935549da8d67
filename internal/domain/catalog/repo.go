package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) CreateItem(ctx context.Context, kind ItemKind, title, author string) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO items (kind, title, author) VALUES ($1,$2,$3)
		RETURNING id, kind, title, author, active, created_at
	`, string(kind), title, author)
	var it Item
	if err := row.Scan(&it.ID, &it.Kind, &it.Title, &it.Author, &it.Active, &it.CreatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *Repo) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, kind, title, author, active, created_at
		FROM items WHERE id = $1
	`, id)
	var it Item
	if err := row.Scan(&it.ID, &it.Kind, &it.Title, &it.Author, &it.Active, &it.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (r *Repo) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, title, author, active, created_at
		FROM items
		ORDER BY title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Kind, &it.Title, &it.Author, &it.Active, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// AddUnits registers n new physical copies of an item, all Available.
func (r *Repo) AddUnits(ctx context.Context, itemID int64, barcodes []string) ([]Unit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Unit, 0, len(barcodes))
	for _, bc := range barcodes {
		row := tx.QueryRow(ctx, `
			INSERT INTO units (item_id, barcode, state)
			VALUES ($1,$2,'available')
			RETURNING id, item_id, barcode, state, created_at
		`, itemID, bc)
		var u Unit
		if err := row.Scan(&u.ID, &u.ItemID, &u.Barcode, &u.State, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) UnitsOf(ctx context.Context, itemID int64) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, barcode, state, created_at
		FROM units WHERE item_id = $1
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ItemID, &u.Barcode, &u.State, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// DeleteUnit removes a copy only if it has no loan history; otherwise the row
// is kept for audit and the call reports false.
func (r *Repo) DeleteUnit(ctx context.Context, unitID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM units
		WHERE id = $1
		  AND state = 'available'
		  AND NOT EXISTS (SELECT 1 FROM loans WHERE unit_id = $1)
	`, unitID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
