// Package connection owns the process-wide document store handle. The handle
// is opened lazily on first use, verified, and shared by every repository.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

// ErrUnsupportedScheme is returned when no opener is registered for the endpoint scheme.
var ErrUnsupportedScheme = errors.New("unsupported store endpoint scheme")

// Config describes how to reach the store.
type Config struct {
	Endpoint string
	Key      string
	Database string
	Retry    docstore.RetryPolicy
	// Verify pings the store before the handle is handed out.
	Verify      bool
	AutoMigrate bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Opener creates a driver for one endpoint scheme.
type Opener func(ctx context.Context, cfg Config) (docstore.Driver, error)

// Option configures a Manager.
type Option func(*Manager)

// WithOpener registers or replaces the opener for scheme.
func WithOpener(scheme string, open Opener) Option {
	return func(m *Manager) { m.openers[scheme] = open }
}

// WithClientOptions is applied to every client the Manager creates.
func WithClientOptions(opts ...docstore.ClientOption) Option {
	return func(m *Manager) { m.clientOpts = append(m.clientOpts, opts...) }
}

// Manager holds at most one connected client. The zero value is not usable;
// construct it with NewManager.
type Manager struct {
	cfg        Config
	openers    map[string]Opener
	clientOpts []docstore.ClientOption

	group  singleflight.Group
	mu     sync.RWMutex
	client *docstore.Client
}

// NewManager returns a disconnected Manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg.Retry = cfg.Retry.WithDefaults()
	m := &Manager{
		cfg:     cfg,
		openers: defaultOpeners(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DatabaseID is the database repositories should use.
func (m *Manager) DatabaseID() string {
	return m.cfg.Database
}

// Connected reports whether a client is cached.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Get returns the shared client, connecting first if needed. Concurrent
// callers during the first connect wait for the same attempt. A failed
// attempt leaves the Manager disconnected so the next call tries again.
func (m *Manager) Get(ctx context.Context) (*docstore.Client, error) {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := m.group.Do("connect", func() (any, error) {
		m.mu.RLock()
		c := m.client
		m.mu.RUnlock()
		if c != nil {
			return c, nil
		}

		c, err := m.connect(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.client = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*docstore.Client), nil
}

// Database is a convenience for Get followed by Client.Database.
func (m *Manager) Database(ctx context.Context) (*docstore.Database, error) {
	c, err := m.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Database(m.cfg.Database), nil
}

// Close releases the client and returns to the disconnected state.
// Calling it when disconnected is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

func (m *Manager) connect(ctx context.Context) (*docstore.Client, error) {
	scheme := schemeOf(m.cfg.Endpoint)
	open, ok := m.openers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	start := time.Now()
	attempt := 0
	var client *docstore.Client
	err := retry.Do(ctx, m.cfg.Retry.Backoff(), func(ctx context.Context) error {
		attempt++
		c, err := m.attempt(ctx, open)
		if err == nil {
			client = c
			return nil
		}
		if !retryable(err) {
			return err
		}
		slog.WarnContext(ctx, "store connection attempt failed",
			"scheme", scheme,
			"attempt", attempt,
			"error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to document store",
			"scheme", scheme,
			"attempts", attempt,
			"error", err)
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}

	slog.InfoContext(ctx, "connected to document store",
		"scheme", scheme,
		"database", m.cfg.Database,
		"verified", m.cfg.Verify,
		"duration_ms", time.Since(start).Milliseconds())
	return client, nil
}

// attempt opens and optionally verifies one driver, closing it on failure.
func (m *Manager) attempt(ctx context.Context, open Opener) (*docstore.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Retry.RequestTimeout)
	defer cancel()

	driver, err := open(ctx, m.cfg)
	if err != nil {
		return nil, docstore.FromContext(err)
	}

	opts := append([]docstore.ClientOption{docstore.WithRetryPolicy(m.cfg.Retry)}, m.clientOpts...)
	client := docstore.NewClient(driver, opts...)
	if !m.cfg.Verify {
		return client, nil
	}
	if err := driver.Ping(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			slog.WarnContext(ctx, "failed to close unverified store handle", "error", cerr)
		}
		return nil, docstore.FromContext(err)
	}
	return client, nil
}

// retryable treats configuration and credential failures as permanent.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidEndpoint) {
		return false
	}
	switch docstore.StatusOf(err) {
	case docstore.StatusBadRequest, docstore.StatusUnauthorized, docstore.StatusForbidden:
		return false
	}
	return true
}
