// Package status defines the canonical status codes exchanged across the patchfield
// call surface. Non-negative values mean success (or carry a slot index); negative
// values are errors. Codes never change meaning between protocol versions.
package status

import (
	"errors"
	"fmt"
)

// Code is a status code returned by service calls.
type Code int

// Canonical codes.
const (
	Success                  Code = 0
	Failure                  Code = -1
	InvalidParameters        Code = -2
	NoSuchModule             Code = -3
	ModuleNameTaken          Code = -4
	TooManyModules           Code = -5
	PortOutOfRange           Code = -6
	TooManyConnections       Code = -7
	CyclicDependency         Code = -8
	OutOfBufferSpace         Code = -9
	ProtocolVersionMismatch  Code = -10
	InsufficientMessageSpace Code = -11
	MessageTooLong           Code = -12
	EmptyMessage             Code = -13
)

var codeNames = map[Code]string{
	Success:                  "SUCCESS",
	Failure:                  "FAILURE",
	InvalidParameters:        "INVALID_PARAMETERS",
	NoSuchModule:             "NO_SUCH_MODULE",
	ModuleNameTaken:          "MODULE_NAME_TAKEN",
	TooManyModules:           "TOO_MANY_MODULES",
	PortOutOfRange:           "PORT_OUT_OF_RANGE",
	TooManyConnections:       "TOO_MANY_CONNECTIONS",
	CyclicDependency:         "CYCLIC_DEPENDENCY",
	OutOfBufferSpace:         "OUT_OF_BUFFER_SPACE",
	ProtocolVersionMismatch:  "PROTOCOL_VERSION_MISMATCH",
	InsufficientMessageSpace: "INSUFFICIENT_MESSAGE_SPACE",
	MessageTooLong:           "MESSAGE_TOO_LONG",
	EmptyMessage:             "EMPTY_MESSAGE",
}

// String returns the canonical name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c > 0 {
		return fmt.Sprintf("INDEX(%d)", int(c))
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Int returns the wire representation of the code.
func (c Code) Int() int {
	return int(c)
}

// OK reports whether the code signals success.
func (c Code) OK() bool {
	return c >= 0
}

// Error is the typed failure for a negative code.
type Error struct {
	Code Code
}

// Error implements error.
func (e *Error) Error() string {
	return "patchfield: " + e.Code.String()
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinel errors, one per canonical failure code.
var (
	ErrFailure                  = &Error{Code: Failure}
	ErrInvalidParameters        = &Error{Code: InvalidParameters}
	ErrNoSuchModule             = &Error{Code: NoSuchModule}
	ErrModuleNameTaken          = &Error{Code: ModuleNameTaken}
	ErrTooManyModules           = &Error{Code: TooManyModules}
	ErrPortOutOfRange           = &Error{Code: PortOutOfRange}
	ErrTooManyConnections       = &Error{Code: TooManyConnections}
	ErrCyclicDependency         = &Error{Code: CyclicDependency}
	ErrOutOfBufferSpace         = &Error{Code: OutOfBufferSpace}
	ErrProtocolVersionMismatch  = &Error{Code: ProtocolVersionMismatch}
	ErrInsufficientMessageSpace = &Error{Code: InsufficientMessageSpace}
	ErrMessageTooLong           = &Error{Code: MessageTooLong}
	ErrEmptyMessage             = &Error{Code: EmptyMessage}
)

// Check passes non-negative results through and turns negative ones into an *Error.
// It is the local wrapper for callers that prefer Go errors over codes.
func Check(n int) (int, error) {
	if n < 0 {
		return n, &Error{Code: Code(n)}
	}
	return n, nil
}

// SuccessOrFailure collapses any non-negative result to Success and any negative one
// to Failure.
func SuccessOrFailure(n int) int {
	if n >= 0 {
		return int(Success)
	}
	return int(Failure)
}
