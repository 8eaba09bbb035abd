package apperr

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Friendly messages for the store codes callers see most often.
const (
	MsgDuplicateEntity   = "Entity already exists"
	MsgNotFound          = "Entity not found"
	MsgRateLimitExceeded = "Rate limit exceeded"
	msgUnknownStoreError = "Unknown database error"
)

// StatusCoder is implemented by store errors that report an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// storeMessager is implemented by store errors whose own message is cleaner
// than their Error() text.
type storeMessager interface {
	StoreMessage() string
}

// requestIDer is implemented by store errors that carry the store's own request id.
type requestIDer interface {
	RequestID() string
}

var storeCodeKinds = map[int]Kind{
	http.StatusConflict:           KindConflict,
	http.StatusNotFound:           KindNotFound,
	http.StatusTooManyRequests:    KindRateLimited,
	http.StatusBadRequest:         KindInvalidArgument,
	http.StatusForbidden:          KindPermissionDenied,
	http.StatusUnauthorized:       KindUnauthenticated,
	http.StatusPreconditionFailed: KindInvalidArgument,
	http.StatusRequestTimeout:     KindTimeout,
}

// KindForStoreCode maps a store status code to a kind. Unknown codes are Internal.
func KindForStoreCode(code int) Kind {
	if k, ok := storeCodeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// FromStore normalizes an error returned by the document store.
// Errors that are already canonical pass through with op filled in.
func FromStore(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e.WithOperation(op)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Kind:      KindTimeout,
			Operation: op,
			Message:   "Operation timed out",
			Debug:     err.Error(),
			Err:       err,
		}
	}

	var sc StatusCoder
	if !errors.As(err, &sc) {
		return &Error{
			Kind:      KindInternal,
			Operation: op,
			Message:   friendlyMessage(0, err.Error()),
			Debug:     err.Error(),
			Err:       err,
		}
	}

	code := sc.StatusCode()
	raw := err.Error()
	var sm storeMessager
	if errors.As(err, &sm) && sm.StoreMessage() != "" {
		raw = sm.StoreMessage()
	}
	e := &Error{
		Kind:      KindForStoreCode(code),
		Operation: op,
		Message:   friendlyMessage(code, raw),
		StoreCode: code,
		Debug:     err.Error(),
		Err:       err,
	}

	var rid requestIDer
	if errors.As(err, &rid) {
		e.RequestID = rid.RequestID()
	}
	return e
}

func friendlyMessage(code int, raw string) string {
	switch code {
	case http.StatusConflict:
		return MsgDuplicateEntity
	case http.StatusNotFound:
		return MsgNotFound
	case http.StatusTooManyRequests:
		return MsgRateLimitExceeded
	}

	msg := strings.TrimSpace(strings.SplitN(raw, ",", 2)[0])
	if msg == "" {
		return msgUnknownStoreError
	}
	return msg
}
