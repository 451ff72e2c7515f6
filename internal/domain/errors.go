package domain

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to API clients.
const (
	CodeBookingNotFound       = "BOOKING_NOT_FOUND"
	CodeBookingNotUpdatable   = "BOOKING_NOT_UPDATABLE"
	CodeBookingNotAssignable  = "BOOKING_NOT_ASSIGNABLE"
	CodeDriverNotAvailable    = "DRIVER_NOT_AVAILABLE"
	CodeBookingNotCancellable = "BOOKING_NOT_CANCELLABLE"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeInternalError         = "INTERNAL_ERROR"
)

// Error is a domain error with a stable code. Precondition violations get
// a specific code; store failures are wrapped as CodeInternalError after
// being logged with full context at the failure site.
type Error struct {
	Code    string
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewValidationError(fields map[string]string) *Error {
	return &Error{
		Code:    CodeValidationError,
		Message: "invalid request",
		Fields:  fields,
	}
}

var (
	ErrBookingNotFound       = NewError(CodeBookingNotFound, "booking not found")
	ErrBookingNotUpdatable   = NewError(CodeBookingNotUpdatable, "booking is in a terminal state and cannot be updated")
	ErrBookingNotAssignable  = NewError(CodeBookingNotAssignable, "booking must be pending to assign a driver")
	ErrDriverNotAvailable    = NewError(CodeDriverNotAvailable, "driver is not approved or not currently available")
	ErrBookingNotCancellable = NewError(CodeBookingNotCancellable, "booking is in a terminal state and cannot be cancelled")
)

// AsError extracts a *Error from err, if there is one.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf returns the stable code for err, or CodeInternalError for
// anything that is not a domain error.
func CodeOf(err error) string {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return CodeInternalError
}
