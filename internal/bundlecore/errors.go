package bundlecore

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoleAssignment = errors.New("sponsor and executor must be different accounts")
	ErrEmptyBalance          = errors.New("balance must be > 0")
)

// SigningError reports an intent that could not be signed.
type SigningError struct {
	Index int
	Role  Role
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign intent %d (%s): %v", e.Index, e.Role, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }
