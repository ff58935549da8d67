package patrons

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) GetByID(ctx context.Context, id int64) (*Patron, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, role, active, created_at, updated_at
		FROM patrons WHERE id = $1
	`, id)
	var p Patron
	if err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Upsert by e-mail. An existing staff member is never demoted.
func (r *Repo) Upsert(ctx context.Context, fullName, email string, role Role) (*Patron, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patrons (full_name, email, role)
		VALUES ($1,$2,$3)
		ON CONFLICT (email)
		DO UPDATE SET
			full_name  = EXCLUDED.full_name,
			role       = CASE WHEN patrons.role = 'staff' THEN patrons.role ELSE EXCLUDED.role END,
			updated_at = now()
		RETURNING id, full_name, email, role, active, created_at, updated_at
	`, fullName, email, string(role))
	var p Patron
	if err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) List(ctx context.Context) ([]Patron, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, email, role, active, created_at, updated_at
		FROM patrons
		ORDER BY full_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Patron
	for rows.Next() {
		var p Patron
		if err := rows.Scan(&p.ID, &p.FullName, &p.Email, &p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
