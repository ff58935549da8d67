package policy

import (
	"fmt"

	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

// Rules is one consistent snapshot of the lending parameters. The engine
// reads a snapshot once per operation; due dates computed from it are fixed
// forever, later rule changes never rewrite existing loans.
type Rules struct {
	DailyRateCents int64
	FineCapDays    int
	LoanDays       map[patrons.Role]int
	HoldDays       map[patrons.Role]int
}

func (r Rules) LoanDaysFor(role patrons.Role) (int, error) {
	d, ok := r.LoanDays[role]
	if !ok {
		return 0, fmt.Errorf("policy: no loan period for role %q", role)
	}
	return d, nil
}

func (r Rules) HoldDaysFor(role patrons.Role) (int, error) {
	d, ok := r.HoldDays[role]
	if !ok {
		return 0, fmt.Errorf("policy: no hold period for role %q", role)
	}
	return d, nil
}
