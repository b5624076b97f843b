package clause

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Sentinel errors for the clause error taxonomy. Typed errors below unwrap to
// one of these so orchestration code can branch with errors.Is instead of
// probing state after the fact.
var (
	ErrWrongState         = errors.New("clause: operation not allowed in current state")
	ErrUnauthorized       = errors.New("clause: caller not authorized")
	ErrInvalidInput       = errors.New("clause: invalid input")
	ErrTransferFailed     = errors.New("clause: asset transfer failed")
	ErrDeadlineNotReached = errors.New("clause: deadline not reached")
	ErrDeadlinePassed     = errors.New("clause: deadline passed")
	ErrNotFound           = errors.New("clause: instance not found")
)

// StateError reports an operation invoked while the record was not in the
// required state.
type StateError struct {
	Module   string
	Op       string
	Expected string
	Actual   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s requires status %s, got %s", e.Module, e.Op, e.Expected, e.Actual)
}

func (e *StateError) Unwrap() error { return ErrWrongState }

// AuthError reports a caller that is not the party the operation requires.
type AuthError struct {
	Module   string
	Op       string
	Caller   [20]byte
	Expected string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s caller %s is not %s", e.Module, e.Op, hex.EncodeToString(e.Caller[:]), e.Expected)
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

// ValidationError reports a malformed or missing input or configuration.
type ValidationError struct {
	Module string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Module, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// TransferError wraps a failed asset movement.
type TransferError struct {
	Module string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: transfer failed: %v", e.Module, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is matches TransferError against the ErrTransferFailed sentinel in addition
// to its wrapped cause.
func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

// TimingError reports a deadline-gated operation invoked at the wrong time.
// Early is true when the operation ran before its deadline elapsed, false
// when a window-bound operation ran after its window closed.
type TimingError struct {
	Module   string
	Op       string
	Deadline int64
	Now      int64
	Early    bool
}

func (e *TimingError) Error() string {
	if e.Early {
		return fmt.Sprintf("%s: %s before deadline (deadline=%d now=%d)", e.Module, e.Op, e.Deadline, e.Now)
	}
	return fmt.Sprintf("%s: %s after deadline (deadline=%d now=%d)", e.Module, e.Op, e.Deadline, e.Now)
}

func (e *TimingError) Unwrap() error {
	if e.Early {
		return ErrDeadlineNotReached
	}
	return ErrDeadlinePassed
}

// NotFoundError reports a missing instance record.
type NotFoundError struct {
	Module string
	Key    [32]byte
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: instance %s not found", e.Module, hex.EncodeToString(e.Key[:]))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
