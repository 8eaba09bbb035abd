package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rezkam/docrepo/internal/config"
	gateway "github.com/rezkam/docrepo/internal/infrastructure/http"
	"github.com/rezkam/docrepo/internal/infrastructure/http/handler"
	"github.com/rezkam/docrepo/internal/infrastructure/metrics"
	"github.com/rezkam/docrepo/internal/infrastructure/rpc"
	"github.com/rezkam/docrepo/pkg/observability"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadGatewayServerConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := observability.Setup(ctx, observability.Config{
		ServiceName:    cfg.Observability.ServiceName + "-gateway",
		ServiceVersion: version,
		Enabled:        cfg.Observability.OTelEnabled,
		Level:          cfg.Observability.LogLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shutdown telemetry: %v\n", err)
		}
	}()

	// The client handler propagates trace context from the HTTP span into the
	// gRPC call, so one request yields a single distributed trace.
	conn, err := grpc.NewClient(cfg.Gateway.ServiceAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to create document service client: %w", err)
	}
	defer conn.Close()

	router, err := handler.NewRouter(rpc.NewClient(conn), cfg.DevMode())
	if err != nil {
		return fmt.Errorf("failed to register gateway routes: %w", err)
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

	server := gateway.NewAPIServer(router, cfg.Gateway.HTTP, gateway.Options{
		Metrics:  mtr,
		Gatherer: reg,
	})

	slog.InfoContext(ctx, "starting docrepo gateway",
		"service_addr", cfg.Gateway.ServiceAddr,
		"env", cfg.Environment,
		"version", version)

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err := <-errResult:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "failed to shutdown HTTP server", "error", err)
	}
	return nil
}
