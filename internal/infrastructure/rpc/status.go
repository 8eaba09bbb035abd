package rpc

import (
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain is the ErrorInfo domain of every status this service renders.
const ErrorDomain = "docrepo"

const msgInternal = "Internal server error"

// ErrorInfo metadata keys. Values must be strings, so details are JSON-encoded.
const (
	MetaType           = "type"
	MetaOperation      = "operation"
	MetaField          = "field"
	MetaReason         = "reason"
	MetaStoreErrorCode = "storeErrorCode"
	MetaRequestID      = "requestId"
	MetaTimestamp      = "timestamp"
	MetaDetails        = "details"
	MetaDebug          = "debug"
)

var kindCodes = map[apperr.Kind]codes.Code{
	apperr.KindNotFound:         codes.NotFound,
	apperr.KindConflict:         codes.AlreadyExists,
	apperr.KindRateLimited:      codes.ResourceExhausted,
	apperr.KindInvalidArgument:  codes.InvalidArgument,
	apperr.KindPermissionDenied: codes.PermissionDenied,
	apperr.KindUnauthenticated:  codes.Unauthenticated,
	apperr.KindTimeout:          codes.DeadlineExceeded,
	apperr.KindInternal:         codes.Internal,
}

// CodeForKind is the gRPC code a kind is rendered with.
func CodeForKind(k apperr.Kind) codes.Code {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return codes.Internal
}

// KindForCode classifies a status that carries no ErrorInfo.
func KindForCode(c codes.Code) apperr.Kind {
	switch c {
	case codes.NotFound:
		return apperr.KindNotFound
	case codes.AlreadyExists, codes.Aborted:
		return apperr.KindConflict
	case codes.ResourceExhausted:
		return apperr.KindRateLimited
	case codes.InvalidArgument, codes.FailedPrecondition:
		return apperr.KindInvalidArgument
	case codes.PermissionDenied:
		return apperr.KindPermissionDenied
	case codes.Unauthenticated:
		return apperr.KindUnauthenticated
	case codes.DeadlineExceeded:
		return apperr.KindTimeout
	default:
		return apperr.KindInternal
	}
}

// ToStatus renders a canonical error. Outside development mode internal
// messages are replaced and raw details are withheld.
func ToStatus(e *apperr.Error, dev bool) *status.Status {
	msg := e.Message
	if e.Kind == apperr.KindInternal && !dev {
		msg = msgInternal
	}
	if msg == "" {
		msg = e.Kind.String()
	}

	meta := map[string]string{
		MetaType:      e.Kind.String(),
		MetaTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	setIf(meta, MetaOperation, e.Operation)
	setIf(meta, MetaField, e.Field)
	setIf(meta, MetaReason, e.Reason)
	setIf(meta, MetaRequestID, e.RequestID)
	if e.StoreCode != 0 {
		meta[MetaStoreErrorCode] = strconv.Itoa(e.StoreCode)
	}
	if len(e.Details) > 0 && (dev || e.IsValidation()) {
		if data, err := json.Marshal(e.Details); err == nil {
			meta[MetaDetails] = string(data)
		}
	}
	if dev {
		setIf(meta, MetaDebug, e.Debug)
	}

	st := status.New(CodeForKind(e.Kind), msg)
	info := &errdetails.ErrorInfo{
		Reason:   e.Kind.String(),
		Domain:   ErrorDomain,
		Metadata: meta,
	}
	var (
		withDetails *status.Status
		err         error
	)
	if e.IsValidation() {
		withDetails, err = st.WithDetails(info, badRequest(e.Violations))
	} else {
		withDetails, err = st.WithDetails(info)
	}
	if err != nil {
		return st
	}
	return withDetails
}

func setIf(meta map[string]string, key, value string) {
	if value != "" {
		meta[key] = value
	}
}

func badRequest(violations map[string][]string) *errdetails.BadRequest {
	fields := make([]string, 0, len(violations))
	for f := range violations {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	br := &errdetails.BadRequest{}
	for _, f := range fields {
		for _, msg := range violations[f] {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       f,
				Description: msg,
			})
		}
	}
	return br
}

// FromStatus decodes a status back into a canonical error. Statuses rendered
// by ToStatus keep their kind; foreign ones are classified by code.
func FromStatus(st *status.Status) *apperr.Error {
	e := &apperr.Error{
		Kind:    KindForCode(st.Code()),
		Message: st.Message(),
		Err:     st.Err(),
	}
	for _, d := range st.Details() {
		switch d := d.(type) {
		case *errdetails.ErrorInfo:
			if d.GetDomain() != ErrorDomain {
				continue
			}
			applyMetadata(e, d.GetMetadata())
		case *errdetails.BadRequest:
			for _, v := range d.GetFieldViolations() {
				if e.Violations == nil {
					e.Violations = make(map[string][]string)
				}
				e.Violations[v.GetField()] = append(e.Violations[v.GetField()], v.GetDescription())
			}
		}
	}
	return e
}

func applyMetadata(e *apperr.Error, meta map[string]string) {
	if k, ok := apperr.ParseKind(meta[MetaType]); ok {
		e.Kind = k
	}
	e.Operation = meta[MetaOperation]
	e.Field = meta[MetaField]
	e.Reason = meta[MetaReason]
	e.RequestID = meta[MetaRequestID]
	e.Debug = meta[MetaDebug]
	if code, err := strconv.Atoi(meta[MetaStoreErrorCode]); err == nil {
		e.StoreCode = code
	}
	if raw := meta[MetaDetails]; raw != "" {
		var details map[string]any
		if err := json.Unmarshal([]byte(raw), &details); err == nil {
			e.Details = details
		}
	}
}
