package graph

import (
	"errors"
	"fmt"
)

// ErrProfileNotFound marks a deleted, suspended or otherwise unreachable
// account. This is an expected steady-state condition, not a failure:
// accounts routinely disappear between discovery and inspection.
var ErrProfileNotFound = errors.New("profile not found")

// TransientError is a recoverable fetch failure scoped to a single power
// user or account: rate limiting after retry exhaustion, upstream 5xx, an
// open circuit breaker. The pipeline skips the affected unit and continues.
type TransientError struct {
	Op     string
	Handle string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure for %s: %v", e.Op, e.Handle, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a credential or malformed-request class failure. It aborts
// the whole run: keeping going would produce an inconsistent data set.
type FatalError struct {
	Op     string
	Status int
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s failure (HTTP %d): %v", e.Op, e.Status, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a recoverable per-unit fetch failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err must abort the entire run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
