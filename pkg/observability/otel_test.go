package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Basic%20abc, X-Scope=tenant=1,broken")
	assert.Equal(t, map[string]string{
		"Authorization": "Basic abc",
		"X-Scope":       "tenant=1",
	}, parseOTLPHeaders())

	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	assert.Nil(t, parseOTLPHeaders())
}

func TestSetup_Disabled(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	p, err := Setup(context.Background(), Config{ServiceName: "docrepo-test", Level: "warn"})
	require.NoError(t, err)

	assert.False(t, p.Logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, p.Logger.Enabled(context.Background(), slog.LevelWarn))
	assert.Same(t, p.Logger, slog.Default())
	assert.NoError(t, p.Shutdown(context.Background()))
}
