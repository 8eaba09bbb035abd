package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Status codes follow the HTTP convention of the hosted document stores.
const (
	StatusBadRequest         = http.StatusBadRequest
	StatusUnauthorized       = http.StatusUnauthorized
	StatusForbidden          = http.StatusForbidden
	StatusNotFound           = http.StatusNotFound
	StatusRequestTimeout     = http.StatusRequestTimeout
	StatusConflict           = http.StatusConflict
	StatusPreconditionFailed = http.StatusPreconditionFailed
	StatusTooManyRequests    = http.StatusTooManyRequests
	StatusRetryWith          = 449
	StatusInternal           = http.StatusInternalServerError
	StatusServiceUnavailable = http.StatusServiceUnavailable
)

var (
	ErrInvalidSpec = errors.New("invalid container spec")
	ErrClosed      = errors.New("store client is closed")
)

// Error is returned by drivers for every failed store request.
type Error struct {
	Code       int
	Message    string
	ActivityID string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store status %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("store status %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the store status code.
func (e *Error) StatusCode() int { return e.Code }

// StoreMessage returns the message without the status prefix and cause.
func (e *Error) StoreMessage() string { return e.Message }

// RequestID returns the store-side activity id, if the engine reported one.
func (e *Error) RequestID() string { return e.ActivityID }

// NewError builds a store error.
func NewError(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// StatusOf extracts the store status code from err, or 0 when err is not a store error.
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports whether err is a store 404.
func IsNotFound(err error) bool { return StatusOf(err) == StatusNotFound }

// IsConflict reports whether err is a store 409.
func IsConflict(err error) bool { return StatusOf(err) == StatusConflict }

// IsPreconditionFailed reports whether err is a failed version check.
func IsPreconditionFailed(err error) bool { return StatusOf(err) == StatusPreconditionFailed }

// IsTransient reports whether the request may succeed when retried unchanged.
func IsTransient(err error) bool {
	switch StatusOf(err) {
	case StatusTooManyRequests, StatusServiceUnavailable, StatusRetryWith:
		return true
	}
	return false
}

// FromContext converts a context failure into a store timeout.
func FromContext(err error) error {
	if StatusOf(err) == 0 && errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: StatusRequestTimeout, Message: "Request timed out", Err: err}
	}
	return err
}

// Common messages reported by every driver.
const (
	MsgEntityExists    = "Entity with the specified id already exists in the system."
	MsgUniqueKey       = "Unique index constraint violation."
	MsgEntityNotFound  = "Entity with the specified id does not exist in the system."
	MsgVersionMismatch = "Operation cannot be performed because one of the specified precondition is not met."
	MsgThrottled       = "Request rate is large."
)
