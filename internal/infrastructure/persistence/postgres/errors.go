package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rezkam/docrepo/internal/docstore"
)

const (
	pkeyConstraint      = "documents_pkey"
	containerConstraint = "documents_container_fkey"
)

// translate maps driver failures onto store status codes.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var se *docstore.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.NewError(docstore.StatusNotFound, docstore.MsgEntityNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return docstore.NewError(docstore.StatusRequestTimeout, "Request timed out", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return docstore.NewError(docstore.StatusInternal, err.Error(), err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if pgErr.ConstraintName == pkeyConstraint {
			return docstore.NewError(docstore.StatusConflict, docstore.MsgEntityExists, err)
		}
		return docstore.NewError(docstore.StatusConflict, docstore.MsgUniqueKey, err)
	case pgerrcode.ForeignKeyViolation:
		if pgErr.ConstraintName == containerConstraint {
			return docstore.NewError(docstore.StatusNotFound, "Resource Not Found. Container does not exist.", err)
		}
		return docstore.NewError(docstore.StatusBadRequest, pgErr.Message, err)
	case pgerrcode.TooManyConnections:
		return docstore.NewError(docstore.StatusTooManyRequests, docstore.MsgThrottled, err)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.CannotConnectNow:
		return docstore.NewError(docstore.StatusServiceUnavailable, pgErr.Message, err)
	case pgerrcode.QueryCanceled:
		return docstore.NewError(docstore.StatusRequestTimeout, "Request timed out", err)
	case pgerrcode.InsufficientPrivilege:
		return docstore.NewError(docstore.StatusForbidden, pgErr.Message, err)
	case pgerrcode.InvalidPassword, pgerrcode.InvalidAuthorizationSpecification:
		return docstore.NewError(docstore.StatusUnauthorized, pgErr.Message, err)
	}
	if pgerrcode.IsDataException(pgErr.Code) {
		return docstore.NewError(docstore.StatusBadRequest, pgErr.Message, err)
	}
	return docstore.NewError(docstore.StatusInternal, pgErr.Message, err)
}
