package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Status: closed set of error kinds
// ---------------------------------------------------------------------------

// Status is the outcome code carried by an execution context.
type Status uint8

const (
	Success Status = iota

	// Argument-shape errors
	NumberOfArgumentsInvalid
	ArgumentValueInvalid
	ArgumentTypeInvalid

	// Existence errors
	TypeExists
	TypeNotExists
	NotExists

	// Resource errors
	AllocationFailed

	// Protocol violations
	StackCorruption
	OperationInvalid
	SemanticalError
)

var statusNames = [...]string{
	Success:                  "Success",
	NumberOfArgumentsInvalid: "NumberOfArgumentsInvalid",
	ArgumentValueInvalid:     "ArgumentValueInvalid",
	ArgumentTypeInvalid:      "ArgumentTypeInvalid",
	TypeExists:               "TypeExists",
	TypeNotExists:            "TypeNotExists",
	NotExists:                "NotExists",
	AllocationFailed:         "AllocationFailed",
	StackCorruption:          "StackCorruption",
	OperationInvalid:         "OperationInvalid",
	SemanticalError:          "SemanticalError",
}

// String implements the Stringer interface.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Fatal reports whether the status poisons the context that observed it.
func (s Status) Fatal() bool {
	return s == StackCorruption
}

// ---------------------------------------------------------------------------
// Error
// ---------------------------------------------------------------------------

// Error is the error value produced by every fallible runtime operation.
type Error struct {
	Status  Status
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Message
}

// Is matches any *Error with the same status, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Status == e.Status
}

// Sentinels for errors.Is.
var (
	ErrNumberOfArgumentsInvalid = &Error{Status: NumberOfArgumentsInvalid}
	ErrArgumentValueInvalid     = &Error{Status: ArgumentValueInvalid}
	ErrArgumentTypeInvalid      = &Error{Status: ArgumentTypeInvalid}
	ErrTypeExists               = &Error{Status: TypeExists}
	ErrTypeNotExists            = &Error{Status: TypeNotExists}
	ErrNotExists                = &Error{Status: NotExists}
	ErrAllocationFailed         = &Error{Status: AllocationFailed}
	ErrStackCorruption          = &Error{Status: StackCorruption}
	ErrOperationInvalid         = &Error{Status: OperationInvalid}
	ErrSemanticalError          = &Error{Status: SemanticalError}
)

func newError(s Status, format string, args ...any) *Error {
	return &Error{Status: s, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status carried by err. A nil error is Success;
// errors that did not originate in the runtime map to OperationInvalid.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return OperationInvalid
}
