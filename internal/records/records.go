// Package records is the caller's view of the scheduling system: who is
// calling, which shifts they have and where changes are written.
package records

import (
	"context"
	"errors"

	cs "callvox/internal/callstate"
)

var ErrNotFound = errors.New("record not found")

type Employee struct {
	cs.Ref
	Providers []cs.Ref `json:"providers"`
}

// Store is the record-store collaborator. Lookups that match nothing return
// ErrNotFound; any other error is a failure of the store itself.
type Store interface {
	EmployeeByPhone(ctx context.Context, phone string) (Employee, error)
	EmployeeByPIN(ctx context.Context, pin string) (Employee, error)
	// Occurrences returns the employee's upcoming shifts with provider,
	// earliest first.
	Occurrences(ctx context.Context, employeeID, providerID string) ([]cs.Occurrence, error)
	SubmitChange(ctx context.Context, c cs.Change) error
}
