package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/keycase"
	"github.com/rezkam/docrepo/internal/requestid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultCallTimeout bounds a call when no timeout is configured.
const DefaultCallTimeout = 10 * time.Second

// RPCObserver records the outcome of every call.
type RPCObserver interface {
	ObserveRPC(method, code string, elapsed time.Duration)
}

// Recover turns a panic anywhere below it into an Internal error rendered
// through chain, so the caller gets a status and never the panic text.
func Recover(chain *apperr.Chain[error]) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				// The panic may have happened before RequestID ran.
				rctx := ctx
				if requestid.FromContext(rctx) == "" {
					rctx = requestid.NewContext(rctx, incomingRequestID(rctx))
				}
				resp = nil
				err, _ = chain.Handle(rctx, panicError(rctx, info.FullMethod, p))
			}
		}()
		return handler(ctx, req)
	}
}

func panicError(ctx context.Context, method string, p any) error {
	slog.ErrorContext(ctx, "panic in handler",
		"method", method,
		"panic", p,
		"stack", string(debug.Stack()))
	return apperr.Internal(method, fmt.Errorf("panic: %v", p))
}

// Metrics reports the final code and latency of every call.
func Metrics(obs RPCObserver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		obs.ObserveRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// RequestID adopts the caller's x-request-id or generates one, stores it in the
// context and echoes it in the response header.
func RequestID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := incomingRequestID(ctx)
		ctx = requestid.NewContext(ctx, id)
		// Fails only outside a real server stream, e.g. in unit tests.
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestid.MetadataKey, id))
		return handler(ctx, req)
	}
}

// incomingRequestID returns the caller's x-request-id, or a new id when absent.
func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestid.MetadataKey); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return requestid.New()
}

// Errors renders every handler error through chain and sets the request id trailer.
func Errors(chain *apperr.Chain[error]) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		rendered, filter := chain.Handle(ctx, err)
		slog.DebugContext(ctx, "error rendered",
			"method", info.FullMethod,
			"filter", filter,
			"code", status.Code(rendered).String())
		if id := requestid.FromContext(ctx); id != "" {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(requestid.MetadataKey, id))
		}
		return nil, rendered
	}
}

// Timeout gives each call a fixed budget. When it runs out the call's context
// is cancelled and a Timeout error is returned at once; the handler is not
// awaited and may still finish its store work.
func Timeout(d time.Duration) grpc.UnaryServerInterceptor {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	type result struct {
		resp any
		err  error
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- result{err: panicError(ctx, info.FullMethod, p)}
				}
			}()
			resp, err := handler(ctx, req)
			done <- result{resp: resp, err: err}
		}()

		select {
		case r := <-done:
			return r.resp, r.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				slog.WarnContext(ctx, "call timed out",
					"method", info.FullMethod,
					"timeout", d)
				return nil, apperr.Timeout(info.FullMethod, d)
			}
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
}

// KeyCase converts inbound struct keys from snake_case to camelCase and
// outbound ones back, so handlers only ever see camelCase.
func KeyCase() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if in, ok := req.(*structpb.Struct); ok {
			out, err := renameStruct(in, keycase.SnakeToCamel)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInvalidArgument, info.FullMethod, "Request is malformed", err)
			}
			req = out
		}

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}
		if out, ok := resp.(*structpb.Struct); ok {
			renamed, err := renameStruct(out, keycase.CamelToSnake)
			if err != nil {
				return nil, apperr.Internal(info.FullMethod, err)
			}
			return renamed, nil
		}
		return resp, nil
	}
}

func renameStruct(s *structpb.Struct, rename func(string) string) (*structpb.Struct, error) {
	return structpb.NewStruct(keycase.Map(s.AsMap(), rename))
}

// ServerInterceptors is the interceptor chain of the document service, outermost first.
// The error chain wraps the watchdog so timeouts and panics are rendered like any other error.
func ServerInterceptors(chain *apperr.Chain[error], timeout time.Duration, obs RPCObserver) []grpc.UnaryServerInterceptor {
	interceptors := []grpc.UnaryServerInterceptor{Recover(chain)}
	if obs != nil {
		interceptors = append(interceptors, Metrics(obs))
	}
	return append(interceptors,
		RequestID(),
		Errors(chain),
		Timeout(timeout),
		KeyCase(),
	)
}
