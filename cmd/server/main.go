package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rezkam/docrepo/internal/application/documents"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/rezkam/docrepo/internal/connection"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/infrastructure/cache/memory"
	"github.com/rezkam/docrepo/internal/infrastructure/cache/redis"
	"github.com/rezkam/docrepo/internal/infrastructure/metrics"
	"github.com/rezkam/docrepo/internal/infrastructure/rpc"
	"github.com/rezkam/docrepo/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := observability.Setup(ctx, observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Observability.OTelEnabled,
		Level:          cfg.Observability.LogLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		// Use a timeout to prevent hanging if collector is unreachable
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shutdown telemetry: %v\n", err)
		}
	}()

	slog.InfoContext(ctx, "starting docrepo document service",
		"env", cfg.Environment,
		"version", version)

	catalog, err := cfg.Catalog.Load()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	manager := connection.NewManager(connection.Config{
		Endpoint: cfg.Store.Endpoint,
		Key:      cfg.Store.Key,
		Database: catalog.DatabaseOr(cfg.Store.Database),
		Retry: docstore.RetryPolicy{
			RequestTimeout: cfg.Store.RequestTimeout,
			MaxRetries:     cfg.Store.MaxRetries,
			RetryInterval:  cfg.Store.RetryInterval,
			MaxWait:        cfg.Store.MaxWait,
		},
		Verify:          cfg.Store.Verify,
		AutoMigrate:     cfg.Store.AutoMigrate,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
	}, connection.WithClientOptions(docstore.WithObserver(mtr)))

	slog.InfoContext(ctx, "document store configured",
		"endpoint", maskPassword(cfg.Store.Endpoint),
		"database", manager.DatabaseID())

	opts := []documents.Option{documents.WithCatalog(catalog.Containers)}
	var cacheCloser io.Closer
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		opts = append(opts, documents.WithCache(memory.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval)))
		slog.InfoContext(ctx, "point-read cache enabled", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)
	case config.CacheRedis:
		rc := redis.New(redis.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.RedisPrefix,
			TTL:      cfg.Cache.TTL,
		})
		if err := rc.Ping(ctx); err != nil {
			// Cache failures degrade to misses.
			slog.WarnContext(ctx, "redis cache unreachable", "addr", cfg.Cache.RedisAddr, "error", err)
		}
		opts = append(opts, documents.WithCache(rc))
		cacheCloser = rc
		slog.InfoContext(ctx, "point-read cache enabled", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)
	}

	docs := documents.NewService(manager, opts...)
	if err := docs.Sync(ctx); err != nil {
		_ = manager.Close()
		return fmt.Errorf("failed to provision containers: %w", err)
	}

	s, lis, err := createGRPCServer(ctx, cfg, docs, mtr)
	if err != nil {
		_ = manager.Close()
		return err
	}

	errResult := make(chan error, 2)
	go func() {
		if err := s.Serve(lis); err != nil {
			errResult <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()

	var servers []shutdowner
	if cfg.Observability.MetricsAddr != "" {
		ms := &http.Server{
			Addr:              cfg.Observability.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, ms)
		go func() {
			slog.InfoContext(ctx, "metrics server listening", "addr", ms.Addr)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errResult <- fmt.Errorf("failed to serve metrics: %w", err)
			}
		}()
	}

	closers := []io.Closer{manager}
	if cacheCloser != nil {
		closers = []io.Closer{cacheCloser, manager}
	}

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err := <-errResult:
		slog.ErrorContext(ctx, "server failed", "error", err)
		s.Stop()
		newCleanup(context.Background(), servers, closers...)()
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(shutdownCtx, "gRPC server shutdown complete")
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "gRPC server shutdown timed out, forcing stop")
		s.Stop()
	}

	newCleanup(shutdownCtx, servers, closers...)()
	return nil
}

// createGRPCServer builds the document service and its listener, and registers
// the standard health service next to it.
func createGRPCServer(ctx context.Context, cfg *config.ServerConfig, docs *documents.Service, mtr *metrics.Metrics) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := rpc.NewGRPCServer(cfg.GRPC, docs, rpc.ServerOptions{
		DevMode:  cfg.DevMode(),
		Observer: mtr,
	})

	hs := health.NewServer()
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	slog.InfoContext(ctx, "gRPC server listening",
		"address", lis.Addr(),
		"dev_mode", cfg.DevMode())

	return s, lis, nil
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		// If parsing fails, fall back to full redaction to be safe
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
