// Package apperr defines the canonical error type shared by every boundary of
// the system. Storage errors are normalized into an *Error once, and transports
// render that single value into their own representation.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the transport-independent classification of a failure.
// The zero value is KindInternal so an Error never carries an ambiguous kind.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindRateLimited
	KindInvalidArgument
	KindPermissionDenied
	KindUnauthenticated
	KindTimeout
)

var kindNames = map[Kind]string{
	KindInternal:         "INTERNAL",
	KindNotFound:         "NOT_FOUND",
	KindConflict:         "CONFLICT",
	KindRateLimited:      "RATE_LIMITED",
	KindInvalidArgument:  "INVALID_ARGUMENT",
	KindPermissionDenied: "PERMISSION_DENIED",
	KindUnauthenticated:  "UNAUTHENTICATED",
	KindTimeout:          "TIMEOUT",
}

// Kinds lists every kind, in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindInternal,
		KindNotFound,
		KindConflict,
		KindRateLimited,
		KindInvalidArgument,
		KindPermissionDenied,
		KindUnauthenticated,
		KindTimeout,
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindInternal, false
}

// Error is the canonical error. It is the single source of truth rendered into
// RPC statuses and HTTP responses.
type Error struct {
	Kind      Kind
	Operation string
	Message   string

	// Field and Reason identify domain rule violations and business rule codes.
	Field  string
	Reason string

	// Violations maps request fields to their validation messages.
	Violations map[string][]string

	// Details is free-form context. Renderers only expose it in development mode
	// unless the error is a validation failure.
	Details map[string]any

	// StoreCode is the status code reported by the document store, 0 when the
	// error did not originate there.
	StoreCode int

	RequestID string

	// Debug holds raw engine text. It never leaves the process outside development mode.
	Debug string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(e.Kind.String()))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether the error carries field-level validation failures.
func (e *Error) IsValidation() bool {
	return len(e.Violations) > 0
}

// IsRule reports whether the error describes a domain or business rule violation.
func (e *Error) IsRule() bool {
	return e.Field != "" || e.Reason != ""
}

// WithRequestID returns a copy of e carrying the request id. An id already set is kept.
func (e *Error) WithRequestID(id string) *Error {
	cp := *e
	if cp.RequestID == "" {
		cp.RequestID = id
	}
	return &cp
}

// WithOperation returns a copy of e with the operation set when it was empty.
func (e *Error) WithOperation(op string) *Error {
	cp := *e
	if cp.Operation == "" {
		cp.Operation = op
	}
	return &cp
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Operation: op, Message: message}
}

// Wrap creates an error of the given kind that keeps cause in its chain.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Operation: op, Message: message, Err: cause}
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func Conflict(op, message string) *Error {
	return New(KindConflict, op, message)
}

func InvalidArgument(op, message string) *Error {
	return New(KindInvalidArgument, op, message)
}

// Internal wraps an unexpected failure.
func Internal(op string, cause error) *Error {
	return Wrap(KindInternal, op, "Internal server error", cause)
}

// Validation reports request validation failures keyed by field.
func Validation(op string, violations map[string][]string) *Error {
	return &Error{
		Kind:       KindInvalidArgument,
		Operation:  op,
		Message:    "Request validation failed",
		Violations: violations,
	}
}

// Domain reports a broken domain rule on a single field.
func Domain(op, field, reason string) *Error {
	return &Error{
		Kind:      KindInvalidArgument,
		Operation: op,
		Message:   field + ": " + reason,
		Field:     field,
		Reason:    reason,
	}
}

// Business reports a business rule violation identified by code.
func Business(op, code, message string, details map[string]any) *Error {
	return &Error{
		Kind:      KindInvalidArgument,
		Operation: op,
		Message:   message,
		Reason:    code,
		Details:   details,
	}
}

// Timeout reports that op did not finish within d.
func Timeout(op string, d time.Duration) *Error {
	return &Error{
		Kind:      KindTimeout,
		Operation: op,
		Message:   fmt.Sprintf("Operation timed out after %dms", d.Milliseconds()),
		Details:   map[string]any{"timeout": d.Milliseconds()},
	}
}

// As extracts the canonical error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies any error. Errors without a canonical error in their chain are Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
