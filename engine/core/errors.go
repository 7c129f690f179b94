package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every knowledge component. Callers classify
// failures with errors.Is rather than string matching.
var (
	// ErrInvalidArgument reports null, empty, or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch reports a vector whose length differs from the
	// configured dimension. Use NewDimensionError to carry the sizes.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidState reports an operation whose preconditions were not met,
	// such as building a composite with zero registered sources.
	ErrInvalidState = errors.New("invalid state")
)

// DimensionError carries the expected and observed vector lengths.
type DimensionError struct {
	Want int
	Got  int
}

// NewDimensionError builds a DimensionError for the given sizes.
func NewDimensionError(want, got int) *DimensionError {
	return &DimensionError{Want: want, Got: got}
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Want, e.Got)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match a DimensionError.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// BackendError wraps an underlying storage or I/O failure without
// interpreting it. Op names the failing operation for log context.
type BackendError struct {
	Op  string
	Err error
}

// NewBackendError wraps err as an opaque backend failure.
func NewBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failure in %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
