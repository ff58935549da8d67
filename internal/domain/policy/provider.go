package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

// Provider hands out lending rules. Implementations decide the staleness
// policy; the engine treats every snapshot as read-only.
type Provider interface {
	Rules(ctx context.Context) (Rules, error)
}

/* DB-backed repo over the settings table */

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

// Settings keys:
//
//	daily_rate_cents, fine_cap_days
//	loan_days.<role>, hold_days.<role>
func (r *Repo) Rules(ctx context.Context) (Rules, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Rules{}, err
	}
	defer rows.Close()

	out := Rules{
		LoanDays: map[patrons.Role]int{},
		HoldDays: map[patrons.Role]int{},
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Rules{}, err
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Rules{}, fmt.Errorf("policy: setting %s=%q is not a number", key, value)
		}
		switch {
		case key == "daily_rate_cents":
			out.DailyRateCents = int64(n)
		case key == "fine_cap_days":
			out.FineCapDays = n
		case strings.HasPrefix(key, "loan_days."):
			out.LoanDays[patrons.Role(strings.TrimPrefix(key, "loan_days."))] = n
		case strings.HasPrefix(key, "hold_days."):
			out.HoldDays[patrons.Role(strings.TrimPrefix(key, "hold_days."))] = n
		}
	}
	return out, rows.Err()
}

func (r *Repo) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

/* TTL cache */

// Cached wraps another Provider and serves a snapshot for at most ttl.
// Staleness is explicit: a rule change is visible to the engine after at most
// one ttl, never mid-operation.
type Cached struct {
	src Provider
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	rules   Rules
	expires time.Time
}

func NewCached(src Provider, ttl time.Duration) *Cached {
	return &Cached{src: src, ttl: ttl, now: time.Now}
}

func (c *Cached) Rules(ctx context.Context) (Rules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.expires) {
		return c.rules, nil
	}
	rules, err := c.src.Rules(ctx)
	if err != nil {
		// Keep serving the previous snapshot if we have one.
		if !c.expires.IsZero() {
			return c.rules, nil
		}
		return Rules{}, err
	}
	c.rules = rules
	c.expires = c.now().Add(c.ttl)
	return c.rules, nil
}

/* Static provider, used by tests and ephemeral setups */

type Static struct{ R Rules }

func (s Static) Rules(context.Context) (Rules, error) { return s.R, nil }
