package catalog

import "time"

type ItemKind string

const (
	KindBook       ItemKind = "book"
	KindMedia      ItemKind = "media"
	KindEquipment  ItemKind = "equipment"
	KindStudyRoom  ItemKind = "study_room"
	KindTechnology ItemKind = "technology"
)

// Item is a catalog title/category. The lending engine only cares that it
// exists and is rentable; subtype metadata stays out of the engine.
type Item struct {
	ID        int64
	Kind      ItemKind
	Title     string
	Author    string
	Active    bool
	CreatedAt time.Time
}

func (i Item) IsRentable() bool { return i.Active }

func (i Item) DisplayTitle() string {
	if i.Author == "" {
		return i.Title
	}
	return i.Title + " — " + i.Author
}

type UnitState string

const (
	UnitAvailable   UnitState = "available"
	UnitBorrowed    UnitState = "borrowed"
	UnitHeld        UnitState = "held"
	UnitMaintenance UnitState = "maintenance"
)

// Unit is one physical/bookable instance of an Item. Its state is persisted
// explicitly and written in the same transaction as the loan/hold row it
// derives from, so callers never re-derive it from history.
type Unit struct {
	ID        int64
	ItemID    int64
	Barcode   string
	State     UnitState
	CreatedAt time.Time
}

// transitions lists the allowed predecessors for every target state.
// Borrowed is reachable from Held only through hold fulfillment;
// Maintenance is blocked while a unit is Held or Borrowed.
var transitions = map[UnitState][]UnitState{
	UnitAvailable:   {UnitBorrowed, UnitHeld, UnitMaintenance},
	UnitBorrowed:    {UnitAvailable, UnitHeld},
	UnitHeld:        {UnitAvailable},
	UnitMaintenance: {UnitAvailable},
}

// AllowedFrom returns the states a unit may be in right before moving to
// target. Stores use it to guard the state UPDATE.
func AllowedFrom(target UnitState) []UnitState {
	return transitions[target]
}

func CanTransition(from, to UnitState) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}
