package patrons

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleStaff   Role = "staff"
)

// IsStaff reports whether the role may act on other patrons' records
// (returns, hold cancellations).
func (r Role) IsStaff() bool { return r == RoleStaff }

type Patron struct {
	ID        int64
	FullName  string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
