package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/infrastructure/persistence/gcs"
	"github.com/rezkam/docrepo/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/docrepo/internal/infrastructure/persistence/sqlite"
)

// ErrInvalidEndpoint is returned when the endpoint cannot be parsed for its scheme.
var ErrInvalidEndpoint = errors.New("invalid store endpoint")

// Endpoint schemes understood by default.
const (
	SchemePostgres   = "postgres"
	SchemePostgreSQL = "postgresql"
	SchemeSQLite     = "sqlite"
	SchemeFile       = "file"
	SchemeGCS        = "gs"
)

func defaultOpeners() map[string]Opener {
	return map[string]Opener{
		SchemePostgres:   openPostgres,
		SchemePostgreSQL: openPostgres,
		SchemeSQLite:     openSQLite,
		SchemeFile:       openSQLite,
		SchemeGCS:        openGCS,
	}
}

func schemeOf(endpoint string) string {
	scheme, _, ok := strings.Cut(endpoint, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

func openPostgres(ctx context.Context, cfg Config) (docstore.Driver, error) {
	dsn, err := postgresDSN(cfg.Endpoint, cfg.Key)
	if err != nil {
		return nil, err
	}
	return postgres.Open(ctx, postgres.DBConfig{
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		SkipMigrations:  !cfg.AutoMigrate,
	})
}

// postgresDSN fills the password from key when the endpoint carries none.
func postgresDSN(endpoint, key string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: postgres endpoint has no host", ErrInvalidEndpoint)
	}
	if key == "" {
		return endpoint, nil
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return endpoint, nil
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, key)
	return u.String(), nil
}

func openSQLite(ctx context.Context, cfg Config) (docstore.Driver, error) {
	dsn, err := sqliteDSN(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return sqlite.Open(ctx, sqlite.Config{DSN: dsn, SkipMigrations: !cfg.AutoMigrate})
}

// sqliteDSN accepts sqlite:///abs/path, sqlite://rel/path, sqlite::memory:
// and plain file: URIs.
func sqliteDSN(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, SchemeFile+":") {
		return endpoint, nil
	}
	rest := strings.TrimPrefix(endpoint, SchemeSQLite+":")
	rest = strings.TrimPrefix(rest, "//")
	if rest == "" {
		return "", fmt.Errorf("%w: sqlite endpoint has no path", ErrInvalidEndpoint)
	}
	return rest, nil
}

func openGCS(ctx context.Context, cfg Config) (docstore.Driver, error) {
	gcfg, err := gcsConfig(cfg.Endpoint, cfg.Key)
	if err != nil {
		return nil, err
	}
	return gcs.Open(ctx, gcfg)
}

// gcsConfig reads gs://bucket[?endpoint=URL]. The key is a service account file.
func gcsConfig(endpoint, key string) (gcs.Config, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return gcs.Config{}, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if u.Host == "" {
		return gcs.Config{}, fmt.Errorf("%w: gs endpoint has no bucket", ErrInvalidEndpoint)
	}
	return gcs.Config{
		Bucket:          u.Host,
		CredentialsFile: key,
		Endpoint:        u.Query().Get("endpoint"),
	}, nil
}
