package repositories

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrReferenced is returned when a delete is blocked by a live reference
	ErrReferenced = errors.New("record is referenced")

	// ErrScopeMismatch is returned when a role would move out of the scope of a grant that references it
	ErrScopeMismatch = errors.New("record is referenced outside the new scope")
)

// DuplicateError is returned when a write violates a uniqueness constraint.
// Field names the colliding attribute ("username", "email", "name", "grant", ...).
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value for %s", e.Field)
}

// IsDuplicate reports whether err is a *DuplicateError and returns its field
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}
