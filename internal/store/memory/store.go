// Package memory is an in-memory implementation of the lending store port,
// used by tests and ephemeral setups. Transactions are serialized behind one
// mutex and run against a copy of the state that replaces the original only
// on commit, so a failed callback leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

var _ lending.Store = (*Store)(nil)

type state struct {
	seq      int64
	items    map[int64]catalog.Item
	units    map[int64]catalog.Unit
	patrons  map[int64]patrons.Patron
	loans    map[int64]lending.Loan
	holds    map[int64]lending.Hold
	waitlist map[int64]lending.WaitlistEntry
	fines    map[int64]lending.Fine
}

func newState() *state {
	return &state{
		items:    map[int64]catalog.Item{},
		units:    map[int64]catalog.Unit{},
		patrons:  map[int64]patrons.Patron{},
		loans:    map[int64]lending.Loan{},
		holds:    map[int64]lending.Hold{},
		waitlist: map[int64]lending.WaitlistEntry{},
		fines:    map[int64]lending.Fine{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.patrons {
		c.patrons[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = cloneLoan(v)
	}
	for k, v := range s.holds {
		c.holds[k] = cloneHold(v)
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = cloneEntry(v)
	}
	for k, v := range s.fines {
		c.fines[k] = v
	}
	return c
}

func cloneLoan(l lending.Loan) lending.Loan {
	l.ReturnedAt = copyTime(l.ReturnedAt)
	l.RenewedAt = copyTime(l.RenewedAt)
	l.ProcessedBy = copyID(l.ProcessedBy)
	return l
}

func cloneHold(h lending.Hold) lending.Hold {
	h.CanceledAt = copyTime(h.CanceledAt)
	h.FulfilledBy = copyID(h.FulfilledBy)
	return h
}

func cloneEntry(e lending.WaitlistEntry) lending.WaitlistEntry {
	e.CanceledAt = copyTime(e.CanceledAt)
	e.FulfilledBy = copyID(e.FulfilledBy)
	return e
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store { return &Store{st: newState()} }

func (s *Store) WithinTx(_ context.Context, fn func(tx lending.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&txn{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

/* seeding helpers for tests and ephemeral setups */

func (s *Store) AddItem(kind catalog.ItemKind, title string) catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.seq++
	it := catalog.Item{ID: s.st.seq, Kind: kind, Title: title, Active: true}
	s.st.items[it.ID] = it
	return it
}

func (s *Store) AddUnit(itemID int64) catalog.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.seq++
	u := catalog.Unit{ID: s.st.seq, ItemID: itemID, State: catalog.UnitAvailable}
	s.st.units[u.ID] = u
	return u
}

func (s *Store) AddPatron(role patrons.Role, name string) patrons.Patron {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.seq++
	p := patrons.Patron{ID: s.st.seq, FullName: name, Role: role, Active: true}
	s.st.patrons[p.ID] = p
	return p
}

// Unit reads the current state of one unit outside any transaction.
func (s *Store) Unit(unitID int64) (catalog.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.units[unitID]
	return u, ok
}

// Hold reads one hold outside any transaction.
func (s *Store) Hold(holdID int64) (lending.Hold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.st.holds[holdID]
	return cloneHold(h), ok
}

// Loan reads one loan outside any transaction.
func (s *Store) Loan(loanID int64) (lending.Loan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.loans[loanID]
	return cloneLoan(l), ok
}

/* transaction */

type txn struct{ st *state }

var _ lending.Tx = (*txn)(nil)

func (t *txn) next() int64 {
	t.st.seq++
	return t.st.seq
}

func (t *txn) ItemExists(_ context.Context, itemID int64) (bool, error) {
	it, ok := t.st.items[itemID]
	return ok && it.Active, nil
}

func (t *txn) PatronRole(_ context.Context, patronID int64) (patrons.Role, error) {
	p, ok := t.st.patrons[patronID]
	if !ok || !p.Active {
		return "", nil
	}
	return p.Role, nil
}

func (t *txn) SelectAvailableUnit(_ context.Context, itemID int64) (*catalog.Unit, error) {
	ids := make([]int64, 0, len(t.st.units))
	for id := range t.st.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := t.st.units[id]
		if u.ItemID == itemID && u.State == catalog.UnitAvailable {
			return &u, nil
		}
	}
	return nil, nil
}

func (t *txn) UnitByID(_ context.Context, unitID int64) (*catalog.Unit, error) {
	u, ok := t.st.units[unitID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *txn) CountAvailableUnits(_ context.Context, itemID int64) (int, error) {
	n := 0
	for _, u := range t.st.units {
		if u.ItemID == itemID && u.State == catalog.UnitAvailable {
			n++
		}
	}
	return n, nil
}

func (t *txn) SetUnitState(_ context.Context, unitID int64, to catalog.UnitState) (bool, error) {
	u, ok := t.st.units[unitID]
	if !ok || !catalog.CanTransition(u.State, to) {
		return false, nil
	}
	u.State = to
	t.st.units[unitID] = u
	return true, nil
}

func (t *txn) InsertLoan(_ context.Context, loan *lending.Loan) error {
	loan.ID = t.next()
	t.st.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (t *txn) LoanByID(_ context.Context, loanID int64) (*lending.Loan, error) {
	l, ok := t.st.loans[loanID]
	if !ok {
		return nil, nil
	}
	l = cloneLoan(l)
	return &l, nil
}

func (t *txn) OpenLoan(_ context.Context, loanID int64) (*lending.Loan, error) {
	l, ok := t.st.loans[loanID]
	if !ok || l.ReturnedAt != nil {
		return nil, nil
	}
	l = cloneLoan(l)
	return &l, nil
}

func (t *txn) CloseLoan(_ context.Context, loanID int64, returnedAt time.Time, processedBy int64, debtCents int64) (bool, error) {
	l, ok := t.st.loans[loanID]
	if !ok || l.ReturnedAt != nil {
		return false, nil
	}
	l.ReturnedAt = &returnedAt
	l.ProcessedBy = &processedBy
	l.DebtCents = debtCents
	t.st.loans[loanID] = l
	return true, nil
}

func (t *txn) RenewLoan(_ context.Context, loanID int64, newDue, renewedAt time.Time) (bool, error) {
	l, ok := t.st.loans[loanID]
	if !ok || l.ReturnedAt != nil {
		return false, nil
	}
	l.DueAt = newDue
	l.RenewedAt = &renewedAt
	t.st.loans[loanID] = l
	return true, nil
}

func (t *txn) InsertHold(_ context.Context, hold *lending.Hold) error {
	hold.ID = t.next()
	t.st.holds[hold.ID] = cloneHold(*hold)
	return nil
}

func (t *txn) HoldByID(_ context.Context, holdID int64) (*lending.Hold, error) {
	h, ok := t.st.holds[holdID]
	if !ok {
		return nil, nil
	}
	h = cloneHold(h)
	return &h, nil
}

func (t *txn) ActiveHoldForPatronItem(_ context.Context, patronID, itemID int64) (*lending.Hold, error) {
	for _, h := range t.st.holds {
		if h.PatronID == patronID && h.ItemID == itemID && h.Active() {
			h = cloneHold(h)
			return &h, nil
		}
	}
	return nil, nil
}

func (t *txn) CancelHold(_ context.Context, holdID int64, canceledAt time.Time) (bool, error) {
	h, ok := t.st.holds[holdID]
	if !ok || !h.Active() {
		return false, nil
	}
	h.CanceledAt = &canceledAt
	t.st.holds[holdID] = h
	return true, nil
}

func (t *txn) FulfillHold(_ context.Context, holdID, loanID int64) (bool, error) {
	h, ok := t.st.holds[holdID]
	if !ok || !h.Active() {
		return false, nil
	}
	h.FulfilledBy = &loanID
	t.st.holds[holdID] = h
	return true, nil
}

func (t *txn) ExpiredHoldIDs(_ context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for id, h := range t.st.holds {
		if h.Active() && h.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *txn) InsertWaitlistEntry(_ context.Context, entry *lending.WaitlistEntry) error {
	entry.ID = t.next()
	t.st.waitlist[entry.ID] = cloneEntry(*entry)
	return nil
}

func (t *txn) WaitlistEntryByID(_ context.Context, entryID int64) (*lending.WaitlistEntry, error) {
	e, ok := t.st.waitlist[entryID]
	if !ok {
		return nil, nil
	}
	e = cloneEntry(e)
	return &e, nil
}

func (t *txn) OldestOpenWaitlistEntry(_ context.Context, itemID int64) (*lending.WaitlistEntry, error) {
	var best *lending.WaitlistEntry
	for _, e := range t.st.waitlist {
		if e.ItemID != itemID || !e.Open() {
			continue
		}
		e := cloneEntry(e)
		if best == nil || e.QueuedAt.Before(best.QueuedAt) ||
			(e.QueuedAt.Equal(best.QueuedAt) && e.ID < best.ID) {
			best = &e
		}
	}
	return best, nil
}

func (t *txn) CancelWaitlistEntry(_ context.Context, entryID int64, canceledAt time.Time) (bool, error) {
	e, ok := t.st.waitlist[entryID]
	if !ok || !e.Open() {
		return false, nil
	}
	e.CanceledAt = &canceledAt
	t.st.waitlist[entryID] = e
	return true, nil
}

func (t *txn) FulfillWaitlistEntry(_ context.Context, entryID, holdID int64) (bool, error) {
	e, ok := t.st.waitlist[entryID]
	if !ok || !e.Open() {
		return false, nil
	}
	e.FulfilledBy = &holdID
	t.st.waitlist[entryID] = e
	return true, nil
}

func (t *txn) FineByLoan(_ context.Context, loanID int64) (*lending.Fine, error) {
	for _, f := range t.st.fines {
		if f.LoanID == loanID {
			f := f
			return &f, nil
		}
	}
	return nil, nil
}

func (t *txn) InsertFine(_ context.Context, fine *lending.Fine) error {
	fine.ID = t.next()
	t.st.fines[fine.ID] = *fine
	return nil
}

func (t *txn) UpdateFine(_ context.Context, fine *lending.Fine) (bool, error) {
	if _, ok := t.st.fines[fine.ID]; !ok {
		return false, nil
	}
	t.st.fines[fine.ID] = *fine
	return true, nil
}

func (t *txn) ListFines(_ context.Context, filter lending.FineFilter) ([]lending.Fine, error) {
	var out []lending.Fine
	for _, f := range t.st.fines {
		if filter.PatronID != 0 && f.PatronID != filter.PatronID {
			continue
		}
		if filter.LoanID != 0 && f.LoanID != filter.LoanID {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (t *txn) ReconcilableLoanIDs(_ context.Context, now time.Time, filter lending.FineFilter) ([]int64, error) {
	var ids []int64
	for id, l := range t.st.loans {
		if filter.PatronID != 0 && l.PatronID != filter.PatronID {
			continue
		}
		if filter.LoanID != 0 && l.ID != filter.LoanID {
			continue
		}
		overdue := (l.ReturnedAt == nil && now.After(l.DueAt)) ||
			(l.ReturnedAt != nil && l.ReturnedAt.After(l.DueAt))
		if overdue {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
