// Package sqlite is the embedded engine for the document store, backed by
// modernc.org/sqlite. It serves local development, the CLI and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rezkam/docrepo/internal/docstore"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Compile-time verification that Store implements the driver interface.
var _ docstore.Driver = (*Store)(nil)

// Config holds the SQLite connection configuration.
type Config struct {
	// DSN is a modernc.org/sqlite data source, e.g. file:docs.db?_pragma=busy_timeout(5000).
	DSN            string
	SkipMigrations bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides the SQLite implementation of docstore.Driver.
type Store struct {
	db *sql.DB
	q  querier
}

// Open opens the database, applies migrations and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection serialises writers.
	db.SetMaxOpenConns(1)

	if !cfg.SkipMigrations {
		if err := migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, translate(err)
	}
	return &Store{db: db, q: db}, nil
}

// withPragmas enables foreign keys and a busy timeout on every connection.
func withPragmas(dsn string) string {
	var add []string
	if !strings.Contains(dsn, "foreign_keys") {
		add = append(add, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		add = append(add, "_pragma=busy_timeout(5000)")
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "Failed to close migration database connection", "error", err)
		}
	}()
	return migrate(ctx, db)
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.DebugContext(ctx, "migration applied", "dialect", "sqlite", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return translate(s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// executeInTransaction runs fn in a transaction, rolling back on error or panic.
func (s *Store) executeInTransaction(ctx context.Context, operationName string, fn func(txStore *Store) error) (err error) {
	start := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to begin transaction",
			"operation", operationName,
			"error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "rollback failed",
					"operation", operationName,
					"original_error", err,
					"rollback_error", rbErr)
			}
			return
		}
		if err = tx.Commit(); err != nil {
			slog.ErrorContext(ctx, "transaction commit failed",
				"operation", operationName,
				"error", err)
			return
		}
		slog.DebugContext(ctx, "transaction completed",
			"operation", operationName,
			"duration_ms", time.Since(start).Milliseconds())
	}()

	err = fn(&Store{db: s.db, q: tx})
	return
}
