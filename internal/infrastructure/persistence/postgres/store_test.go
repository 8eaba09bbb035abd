package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/docstore/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Compliance(t *testing.T) {
	cfg, err := config.LoadTestConfig()
	if err != nil || cfg.PostgresDSN == "" {
		t.Skip("DOCREPO_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}

	compliance.Run(t, func(t *testing.T) (docstore.Driver, func()) {
		store, err := Open(context.Background(), DBConfig{DSN: cfg.PostgresDSN, MaxOpenConns: 5, MaxIdleConns: 1})
		require.NoError(t, err)

		// Each run provisions its own database id; dropping it cascades to its documents.
		cleanup := func() {
			_, _ = store.Pool().Exec(context.Background(), `DELETE FROM databases WHERE id LIKE 'db%'`)
			_ = store.Close()
		}
		return store, cleanup
	})
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    int
		message string
	}{
		{"no rows", pgx.ErrNoRows, docstore.StatusNotFound, docstore.MsgEntityNotFound},
		{"duplicate id", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: pkeyConstraint}, docstore.StatusConflict, docstore.MsgEntityExists},
		{"unique key", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "documents_ux_1f"}, docstore.StatusConflict, docstore.MsgUniqueKey},
		{"unknown container", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: containerConstraint}, docstore.StatusNotFound, ""},
		{"too many connections", &pgconn.PgError{Code: pgerrcode.TooManyConnections}, docstore.StatusTooManyRequests, docstore.MsgThrottled},
		{"serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "could not serialize"}, docstore.StatusServiceUnavailable, "could not serialize"},
		{"privilege", &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege, Message: "denied"}, docstore.StatusForbidden, "denied"},
		{"password", &pgconn.PgError{Code: pgerrcode.InvalidPassword, Message: "bad password"}, docstore.StatusUnauthorized, "bad password"},
		{"data exception", &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation, Message: "bad json"}, docstore.StatusBadRequest, "bad json"},
		{"canceled", &pgconn.PgError{Code: pgerrcode.QueryCanceled}, docstore.StatusRequestTimeout, ""},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), docstore.StatusRequestTimeout, ""},
		{"unknown", errors.New("connection reset"), docstore.StatusInternal, "connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var se *docstore.Error
			require.ErrorAs(t, translate(tt.err), &se)
			assert.Equal(t, tt.want, se.StatusCode())
			if tt.message != "" {
				assert.Equal(t, tt.message, se.Message)
			}
		})
	}
}

func TestUniqueIndexDDL(t *testing.T) {
	ddl := uniqueIndexDDL("app", "users", docstore.UniqueKey{Paths: []string{"/email", "/tenant"}})

	assert.Contains(t, ddl, "CREATE UNIQUE INDEX IF NOT EXISTS documents_ux_")
	assert.Contains(t, ddl, "((doc ->> 'email'), (doc ->> 'tenant'))")
	assert.Contains(t, ddl, "WHERE database_id = 'app' AND container_id = 'users'")
	assert.Equal(t, ddl, uniqueIndexDDL("app", "users", docstore.UniqueKey{Paths: []string{"/email", "/tenant"}}))
}

func TestWhere_BindsFieldNames(t *testing.T) {
	w := newWhere(docstore.ContainerRef{Database: "app", Container: "users"})
	require.NoError(t, w.conditions([]docstore.Condition{
		{Field: "status", Values: []any{"active"}},
		{Field: "id", Values: []any{"u1", "u2"}},
	}))
	sort := w.fieldExpr("rank")

	assert.Equal(t, "(doc -> $6::text)", sort)
	assert.Equal(t, []any{"app", "users", "status", `["active"]`, `["u1","u2"]`, "rank"}, w.args)
	assert.Contains(t, w.String(), "to_jsonb(id)")
	assert.NotContains(t, w.String(), "status")
}
