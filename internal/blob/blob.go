// Package blob provides get/put/exists access to named objects in a shared
// store. No compare-and-swap or versioning is offered; callers must tolerate
// lost updates.
package blob

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates the caller may not read or write the object.
	ErrAccessDenied = errors.New("access denied")
)

// Store is a minimal object store.
type Store interface {
	// Fetch returns the object's bytes. Errors wrap ErrNotFound,
	// ErrAccessDenied, or neither.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Put replaces the object's bytes unconditionally.
	Put(ctx context.Context, key string, data []byte) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Error wraps a store failure with the operation and key.
type Error struct {
	Op  string
	Key string

	// Kind is ErrNotFound, ErrAccessDenied or nil.
	Kind error

	// Err is the backend's error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
	}
}

// Unwrap exposes both the kind and the backend error to errors.Is/As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op, key string, kind, err error) *Error {
	return &Error{Op: op, Key: key, Kind: kind, Err: err}
}

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err is a permission failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
