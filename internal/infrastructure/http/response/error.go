package response

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/infrastructure/rpc"
	"github.com/rezkam/docrepo/internal/requestid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const msgInternal = "Internal server error"

// ErrorBody is the standard error response format. Error is the canonical
// kind; Details always carries at least {"type": kind}.
type ErrorBody struct {
	StatusCode int            `json:"statusCode"`
	Message    string         `json:"message"`
	Error      string         `json:"error"`
	Details    map[string]any `json:"details"`
	Timestamp  time.Time      `json:"timestamp"`
	Path       string         `json:"path"`
	Method     string         `json:"method"`
	RequestID  string         `json:"requestId"`
}

// Keys of ErrorBody.Details.
const (
	DetailType           = "type"
	DetailOperation      = "operation"
	DetailField          = "field"
	DetailReason         = "reason"
	DetailStoreErrorCode = "storeErrorCode"
	DetailViolations     = "violations"
	DetailContext        = "context"
	DetailDebug          = "debug"
)

// Problem is what an error filter renders; ErrorWriter completes it into an ErrorBody.
type Problem struct {
	Status    int
	Kind      apperr.Kind
	Message   string
	Details   map[string]any
	RequestID string
	Debug     string
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindConflict:         http.StatusConflict,
	apperr.KindRateLimited:      http.StatusTooManyRequests,
	apperr.KindInvalidArgument:  http.StatusBadRequest,
	apperr.KindPermissionDenied: http.StatusForbidden,
	apperr.KindUnauthenticated:  http.StatusUnauthorized,
	apperr.KindTimeout:          http.StatusRequestTimeout,
	apperr.KindInternal:         http.StatusInternalServerError,
}

// HTTPStatusForKind maps a canonical kind to its HTTP status.
func HTTPStatusForKind(k apperr.Kind) int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// kindForHTTPStatus classifies a status produced without an error value,
// such as a routing failure or an oversized body.
func kindForHTTPStatus(httpStatus int) apperr.Kind {
	for k, s := range kindStatus {
		if s == httpStatus {
			return k
		}
	}
	if httpStatus >= 400 && httpStatus < 500 {
		return apperr.KindInvalidArgument
	}
	return apperr.KindInternal
}

// HTTPStatusForCode maps a gRPC code to its HTTP status.
func HTTPStatusForCode(c codes.Code) int {
	switch c {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Filter names, in the order the chain tries them.
const (
	FilterStatus    = "status"
	FilterCanonical = "canonical"
	FilterTimeout   = "timeout"
)

// NewErrorChain builds the gateway chain: statuses from the document service
// first, then canonical errors raised by the gateway itself, then deadlines.
func NewErrorChain(dev bool) *apperr.Chain[Problem] {
	return apperr.NewChain(
		func(ctx context.Context, err error) Problem {
			_, id := requestid.Ensure(ctx)
			slog.ErrorContext(ctx, "unhandled gateway error",
				"request_id", id,
				"error", err)
			p := Problem{
				Status:    http.StatusInternalServerError,
				Kind:      apperr.KindInternal,
				Message:   msgInternal,
				Details:   map[string]any{DetailType: apperr.KindInternal.String()},
				RequestID: id,
			}
			if dev {
				p.Debug = err.Error()
			}
			return p
		},
		apperr.Filter[Problem]{
			Name: FilterStatus,
			Matches: func(err error) bool {
				_, ok := status.FromError(err)
				return ok
			},
			Render: func(ctx context.Context, err error) Problem {
				st := status.Convert(err)
				e := rpc.FromStatus(st)
				if st.Code() == codes.Unavailable {
					slog.WarnContext(ctx, "document service unavailable", "error", err)
				}
				return problem(ctx, HTTPStatusForCode(st.Code()), e, dev)
			},
		},
		apperr.Filter[Problem]{
			Name: FilterCanonical,
			Matches: func(err error) bool {
				_, ok := apperr.As(err)
				return ok
			},
			Render: func(ctx context.Context, err error) Problem {
				e, _ := apperr.As(err)
				if e.Kind == apperr.KindInternal {
					slog.ErrorContext(ctx, "gateway error",
						"operation", e.Operation,
						"error", err)
				}
				return problem(ctx, HTTPStatusForKind(e.Kind), e, dev)
			},
		},
		apperr.Filter[Problem]{
			Name: FilterTimeout,
			Matches: func(err error) bool {
				return errors.Is(err, context.DeadlineExceeded)
			},
			Render: func(ctx context.Context, err error) Problem {
				return problem(ctx, http.StatusRequestTimeout, apperr.Wrap(apperr.KindTimeout, "", "Operation timed out", err), dev)
			},
		},
	)
}

func problem(ctx context.Context, httpStatus int, e *apperr.Error, dev bool) Problem {
	p := Problem{
		Status:    httpStatus,
		Kind:      e.Kind,
		Message:   e.Message,
		Details:   metadata(e, dev),
		RequestID: e.RequestID,
	}
	if p.RequestID == "" {
		p.RequestID = requestid.FromContext(ctx)
	}
	if httpStatus == http.StatusInternalServerError && !dev {
		p.Message = msgInternal
	}
	if dev {
		p.Debug = e.Debug
	}
	return p
}

// metadata spreads the structured fields of e into the details object.
// Free-form context is only exposed in development mode.
func metadata(e *apperr.Error, dev bool) map[string]any {
	d := map[string]any{DetailType: e.Kind.String()}
	set := func(key, value string) {
		if value != "" {
			d[key] = value
		}
	}
	set(DetailOperation, e.Operation)
	set(DetailField, e.Field)
	set(DetailReason, e.Reason)
	if e.StoreCode != 0 {
		d[DetailStoreErrorCode] = e.StoreCode
	}
	if e.IsValidation() {
		d[DetailViolations] = e.Violations
	}
	if dev && len(e.Details) > 0 {
		d[DetailContext] = e.Details
	}
	return d
}

// ErrorWriter renders errors through a chain.
type ErrorWriter struct {
	chain *apperr.Chain[Problem]
	dev   bool
}

// NewErrorWriter creates a writer. In development mode raw debug text is included.
func NewErrorWriter(dev bool) *ErrorWriter {
	return &ErrorWriter{chain: NewErrorChain(dev), dev: dev}
}

// Write renders err and sends it. The X-Request-Id header always carries the id.
func (ew *ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	p, filter := ew.chain.Handle(r.Context(), err)
	slog.DebugContext(r.Context(), "error rendered",
		"path", r.URL.Path,
		"filter", filter,
		"status", p.Status)

	details := p.Details
	if details == nil {
		details = map[string]any{DetailType: p.Kind.String()}
	}
	if ew.dev && p.Debug != "" {
		details[DetailDebug] = p.Debug
	}
	writeError(w, r, p.Status, p.Kind, p.Message, details, p.RequestID)
}

// Status sends an error body for a failure that never became an error value,
// e.g. an oversized request rejected by middleware.
func Status(w http.ResponseWriter, r *http.Request, httpStatus int, message string) {
	kind := kindForHTTPStatus(httpStatus)
	writeError(w, r, httpStatus, kind, message, map[string]any{DetailType: kind.String()}, requestid.FromContext(r.Context()))
}

func writeError(w http.ResponseWriter, r *http.Request, httpStatus int, kind apperr.Kind, message string, details map[string]any, id string) {
	if id == "" {
		id = requestid.New()
	}
	w.Header().Set(requestid.Header, id)

	body, err := json.Marshal(ErrorBody{
		StatusCode: httpStatus,
		Message:    message,
		Error:      kind.String(),
		Details:    details,
		Timestamp:  time.Now().UTC(),
		Path:       r.URL.Path,
		Method:     r.Method,
		RequestID:  id,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode error response", "error", err)
		body = []byte(`{"statusCode":500,"message":"failed to encode response","error":"INTERNAL","details":{"type":"INTERNAL"}}`)
		httpStatus = http.StatusInternalServerError
	}
	writeJSON(w, r, httpStatus, body)
}
