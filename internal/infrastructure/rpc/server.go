// Package rpc serves the document service over gRPC. Requests and responses
// are structpb envelopes described by a hand-written service descriptor;
// errors are rendered into rich statuses by an ordered filter chain.
package rpc

import (
	"github.com/rezkam/docrepo/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// ServerOptions configures NewGRPCServer.
type ServerOptions struct {
	DevMode  bool
	Observer RPCObserver
	// Extra options are appended after the defaults.
	Extra []grpc.ServerOption
}

// NewGRPCServer builds a gRPC server with keepalive settings, tracing and the
// interceptor chain, and registers the document service on it.
func NewGRPCServer(cfg config.GRPCConfig, docs Documents, opts ServerOptions) *grpc.Server {
	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.MaxConnectionIdle,
		MaxConnectionAge:      cfg.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.MaxConnectionAgeGrace,
		Time:                  cfg.KeepaliveTime,
		Timeout:               cfg.KeepaliveTimeout,
	}

	keepaliveEnforcementPolicy := keepalive.EnforcementPolicy{
		MinTime:             cfg.KeepaliveEnforcementMinTime,
		PermitWithoutStream: cfg.KeepaliveEnforcementPermitWithoutStream,
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	// The StatsHandler creates a span per call and extracts trace context from client metadata.
	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepaliveEnforcementPolicy),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(ServerInterceptors(NewErrorChain(opts.DevMode), timeout, opts.Observer)...),
	}
	serverOpts = append(serverOpts, opts.Extra...)

	s := grpc.NewServer(serverOpts...)
	RegisterDocumentServer(s, NewServer(docs))
	return s
}
