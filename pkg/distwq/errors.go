package distwq

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Recoverable kinds (DuplicateID, OutOfOrder,
// ConfigInvalid) are returned to the caller that triggered them. IsFatal
// classifies ProtocolViolation and UserFailure as fatal; the package calls
// Abort itself only when the controller's receive step sees an unexpected
// message tag. Other fatal errors are returned from the call or serve loop
// that hit them, and collective workers and brokers log a user failure and
// contribute no result instead of returning it.
var (
	ErrDuplicateID       = errors.New("distwq: duplicate task id")
	ErrOutOfOrder        = errors.New("distwq: result retrieved out of order")
	ErrProtocolViolation = errors.New("distwq: protocol violation")
	ErrConfigInvalid     = errors.New("distwq: invalid configuration")
	ErrUserFailure       = errors.New("distwq: user callable failed")
)

// DuplicateIDError wraps ErrDuplicateID with the offending id.
type DuplicateIDError struct {
	TaskID TaskID
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("distwq: task id %d already submitted", e.TaskID)
}
func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// OutOfOrderError wraps ErrOutOfOrder with the rank and ids involved.
type OutOfOrderError struct {
	Rank     int
	Expected TaskID
	Got      TaskID
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("distwq: rank %d expected result for task %d, got %d", e.Rank, e.Expected, e.Got)
}
func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrder }

// ProtocolViolationError wraps ErrProtocolViolation with context.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("distwq: protocol violation: %s", e.Reason)
}
func (e *ProtocolViolationError) Unwrap() error { return ErrProtocolViolation }

// ConfigInvalidError wraps ErrConfigInvalid with the failing field.
type ConfigInvalidError struct {
	Reason string
}

func (e *ConfigInvalidError) Error() string {
	return fmt.Sprintf("distwq: invalid configuration: %s", e.Reason)
}
func (e *ConfigInvalidError) Unwrap() error { return ErrConfigInvalid }

// UserFailureError wraps ErrUserFailure with the task and underlying cause.
type UserFailureError struct {
	TaskID TaskID
	Cause  error
}

func (e *UserFailureError) Error() string {
	return fmt.Sprintf("distwq: task %d failed: %v", e.TaskID, e.Cause)
}
func (e *UserFailureError) Unwrap() []error { return []error{ErrUserFailure, e.Cause} }

// IsFatal reports whether err is one of the fatal kinds (ProtocolViolation,
// UserFailure) rather than a recoverable one.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrUserFailure)
}
