package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. All are fatal to the calling process; blob.ErrNotFound is the
// only condition handled locally (bootstrap on write, keep waiting on poll).
var (
	// ErrMalformedLedger indicates the stored ledger does not decode.
	ErrMalformedLedger = errors.New("malformed ledger")

	// ErrLedgerUnavailable indicates a store failure other than not-found.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrEmptyLedger indicates there is no record to resolve.
	ErrEmptyLedger = errors.New("empty ledger")

	// ErrNoLedger indicates the ledger object does not exist where one is required.
	ErrNoLedger = errors.New("no ledger")

	// ErrInvalidRecord indicates a record cannot be written as given.
	ErrInvalidRecord = errors.New("invalid record")
)

// Error carries the ledger operation and object key along with its kind.
type Error struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

// Unwrap exposes the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func malformed(format string, args ...any) error {
	return &Error{Op: "decode", Kind: ErrMalformedLedger, Err: fmt.Errorf(format, args...)}
}
