package errors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeConflict        Code = "conflict"
	CodeInternal        Code = "internal"
	CodeInvalidArgument Code = "invalid"
	CodeNotFound        Code = "not_found"
	CodeAborted         Code = "aborted"
	CodeCanceled        Code = "canceled"
	CodeTimeout         Code = "timeout"
)

type Status struct {
	// Source error
	Err error `json:"-"`

	// Machine-readable status code.
	Code Code `json:"code"`

	// Human-readable error message.
	Message string `json:"message"`

	// Payload
	Payload any `json:"detail,omitempty"`
}

// Unwrap status error and return source error.
func (e *Status) Unwrap() error {
	return e.Err
}

// Source sets the origin err and return error.
func (e *Status) Source(err error) *Status {
	e.Err = err
	return e
}

// Error implements the error interface.
func (e *Status) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Detail attaches a payload to the status.
func (e *Status) Detail(arg any) *Status {
	e.Payload = arg
	return e
}

// Http returns http status code mapped to error status code.
func (e *Status) Http() int {
	if code, ok := HttpMap[e.Code]; ok {
		return code
	}
	return HttpMap[CodeInternal]
}

// AsCode unwraps an error and returns its code.
// Non-application errors always return CodeInternal.
func AsCode(err error) Code {
	if err == nil {
		return ""
	}
	e := AsStatus(err)
	if e != nil {
		return e.Code
	}
	return CodeInternal
}

// AsStatus return err as Status error.
func AsStatus(err error) (e *Status) {
	if err == nil {
		return nil
	}
	if errors.As(err, &e) {
		return
	}
	return nil
}

// HttpStatus returns http status for any error, 500 for non-status errors.
func HttpStatus(err error) int {
	if e := AsStatus(err); e != nil {
		return e.Http()
	}
	return HttpMap[CodeInternal]
}

// Format is a helper function to return an Error with a given status and formatted message.
func Format(code Code, format string, args ...any) *Status {
	msg := fmt.Sprintf(format, args...)
	newErr := &Status{
		Code:    code,
		Message: msg,
	}
	return newErr
}

// NotFound is a helper function to return an not found Error.
func NotFound(format string, args ...any) *Status {
	return Format(CodeNotFound, format, args...)
}

// InvalidArgument is a helper function to return an invalid argument Error.
func InvalidArgument(format string, args ...any) *Status {
	return Format(CodeInvalidArgument, format, args...)
}

// Internal is a helper function to return an internal Error.
func Internal(format string, args ...any) *Status {
	return Format(CodeInternal, format, args...)
}

// Conflict is a helper function to return an conflict Error.
func Conflict(format string, args ...any) *Status {
	return Format(CodeConflict, format, args...)
}

// Aborted is a helper function to return aborted error status.
func Aborted(format string, args ...any) *Status {
	return Format(CodeAborted, format, args...)
}

// Canceled returns a status for work abandoned because the caller gave up.
// Use Source to keep the context error reachable through errors.Is.
func Canceled(format string, args ...any) *Status {
	return Format(CodeCanceled, format, args...)
}

// Timeout returns a status for work that outlived its lease.
func Timeout(format string, args ...any) *Status {
	return Format(CodeTimeout, format, args...)
}

// IsNotFound checks if err is not found error.
func IsNotFound(err error) bool {
	return AsCode(err) == CodeNotFound
}

// IsConflict checks if err is conflict error.
func IsConflict(err error) bool {
	return AsCode(err) == CodeConflict
}

// IsInvalidArgument checks if err is invalid argument error.
func IsInvalidArgument(err error) bool {
	return AsCode(err) == CodeInvalidArgument
}

// IsInternal checks if err is internal error.
func IsInternal(err error) bool {
	return AsCode(err) == CodeInternal
}

// IsAborted checks if err is aborted error.
func IsAborted(err error) bool {
	return AsCode(err) == CodeAborted
}

// IsCanceled checks if err is canceled error.
func IsCanceled(err error) bool {
	return AsCode(err) == CodeCanceled
}

// IsTimeout checks if err is timeout error.
func IsTimeout(err error) bool {
	return AsCode(err) == CodeTimeout
}
