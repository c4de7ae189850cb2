package sessions

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned by CreateSession when the user directory
	// does not know the requesting user.
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionNotFound is returned by GetSession and KillQueries for a
	// session id with no stored record. It is the domain remapping of the
	// engine's key-not-found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrQueryNotFound is returned by KillQueries when a requested execution
	// plan id does not exist in its session.
	ErrQueryNotFound = errors.New("query not found")
)

// StoreError wraps a failure of the underlying key-value engine. Operations
// that hit one abort without partial persistence guarantees beyond what the
// engine's batch atomicity provides.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error { return &StoreError{Op: op, Err: err} }
