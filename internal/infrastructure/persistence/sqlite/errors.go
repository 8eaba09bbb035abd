package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rezkam/docrepo/internal/docstore"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// translate maps SQLite result codes onto store status codes.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var se *docstore.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.NewError(docstore.StatusNotFound, docstore.MsgEntityNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return docstore.NewError(docstore.StatusRequestTimeout, "Request timed out", err)
	}

	var liteErr *moderncsqlite.Error
	if !errors.As(err, &liteErr) {
		return docstore.NewError(docstore.StatusInternal, err.Error(), err)
	}

	switch liteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return docstore.NewError(docstore.StatusConflict, docstore.MsgEntityExists, err)
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return docstore.NewError(docstore.StatusConflict, docstore.MsgUniqueKey, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return docstore.NewError(docstore.StatusNotFound, "Resource Not Found. Container does not exist.", err)
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return docstore.NewError(docstore.StatusBadRequest, "Document body is not valid JSON.", err)
	}

	switch liteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return docstore.NewError(docstore.StatusConflict, docstore.MsgUniqueKey, err)
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return docstore.NewError(docstore.StatusServiceUnavailable, "Database is busy.", err)
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
		return docstore.NewError(docstore.StatusForbidden, liteErr.Error(), err)
	case sqlite3.SQLITE_INTERRUPT:
		return docstore.NewError(docstore.StatusRequestTimeout, "Request timed out", err)
	}
	return docstore.NewError(docstore.StatusInternal, liteErr.Error(), err)
}
