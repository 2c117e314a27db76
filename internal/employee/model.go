package employee

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Employee statuses.
const (
	StatusActive     = "ACTIVE"
	StatusInactive   = "INACTIVE"
	StatusTerminated = "TERMINATED"
)

// ErrNotFound is returned when no employee has the requested id.
var ErrNotFound = errors.New("employee not found")

// Employee is the payroll view of a staff member. Salary and payout
// coordinates are authoritative; callers never override them.
type Employee struct {
	ID            string
	FirstName     string
	LastName      string
	WalletAddress string
	SalaryAmount  decimal.Decimal
	SalaryAsset   string
	Network       string
	Status        string
}

// Active reports whether the employee may be paid.
func (e Employee) Active() bool {
	return e.Status == StatusActive
}

// FullName joins first and last name.
func (e Employee) FullName() string {
	switch {
	case e.FirstName == "":
		return e.LastName
	case e.LastName == "":
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}
