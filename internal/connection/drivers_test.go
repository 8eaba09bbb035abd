package connection

import (
	"testing"

	"github.com/rezkam/docrepo/internal/infrastructure/persistence/gcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, "postgres", schemeOf("postgres://localhost/db"))
	assert.Equal(t, "postgresql", schemeOf("PostgreSQL://localhost/db"))
	assert.Equal(t, "sqlite", schemeOf("sqlite::memory:"))
	assert.Equal(t, "gs", schemeOf("gs://bucket"))
	assert.Equal(t, "", schemeOf("localhost"))
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		key      string
		want     string
	}{
		{"no key", "postgres://app@db:5432/docs", "", "postgres://app@db:5432/docs"},
		{"key fills password", "postgres://app@db:5432/docs", "s3cret", "postgres://app:s3cret@db:5432/docs"},
		{"endpoint password wins", "postgres://app:pw@db:5432/docs", "s3cret", "postgres://app:pw@db:5432/docs"},
		{"query kept", "postgres://app@db/docs?sslmode=disable", "k", "postgres://app:k@db/docs?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := postgresDSN(tt.endpoint, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := postgresDSN("postgres:///docs", "")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"sqlite::memory:", ":memory:"},
		{"sqlite:///var/lib/docrepo.db", "/var/lib/docrepo.db"},
		{"sqlite://data/docs.db", "data/docs.db"},
		{"file:docs.db?mode=rwc", "file:docs.db?mode=rwc"},
	}
	for _, tt := range tests {
		got, err := sqliteDSN(tt.endpoint)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.endpoint)
	}

	_, err := sqliteDSN("sqlite:")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestGCSConfig(t *testing.T) {
	cfg, err := gcsConfig("gs://docs-bucket?endpoint=http://localhost:4443/storage/v1/", "/etc/sa.json")
	require.NoError(t, err)
	assert.Equal(t, gcs.Config{
		Bucket:          "docs-bucket",
		CredentialsFile: "/etc/sa.json",
		Endpoint:        "http://localhost:4443/storage/v1/",
	}, cfg)

	_, err = gcsConfig("gs://", "")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
