package rpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGet)}

func TestTimeout_ReturnsWithoutWaitingForHandler(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var handlerCtxDone atomic.Bool
	handler := func(ctx context.Context, _ any) (any, error) {
		<-ctx.Done()
		handlerCtxDone.Store(true)
		<-release
		return "late", nil
	}

	start := time.Now()
	resp, err := Timeout(50*time.Millisecond)(context.Background(), nil, testInfo, handler)
	assert.Nil(t, resp)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, handlerCtxDone.Load, time.Second, 5*time.Millisecond)
}

func TestTimeout_PassesThroughFastResults(t *testing.T) {
	handler := func(context.Context, any) (any, error) { return "ok", nil }
	resp, err := Timeout(time.Second)(context.Background(), nil, testInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestTimeout_RecoversHandlerPanic(t *testing.T) {
	handler := func(context.Context, any) (any, error) { panic("boom") }
	_, err := Timeout(time.Second)(context.Background(), nil, testInfo, handler)
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
}

func TestRecover(t *testing.T) {
	handler := func(context.Context, any) (any, error) { panic("boom") }
	_, err := Recover(NewErrorChain(false))(context.Background(), nil, testInfo, handler)

	st := statusOf(t, err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, msgInternal, st.Message())
	assert.NotContains(t, st.String(), "boom")
	assert.NotEmpty(t, FromStatus(st).RequestID)
}

type panickingObserver struct{}

func (panickingObserver) ObserveRPC(string, string, time.Duration) { panic("observer broke") }

func TestServerInterceptors_PanicOutsideErrorsIsStillAStatus(t *testing.T) {
	chained := chainUnary(ServerInterceptors(NewErrorChain(false), time.Second, panickingObserver{}))

	handler := func(context.Context, any) (any, error) { return &structpb.Struct{}, nil }
	resp, err := chained(context.Background(), &structpb.Struct{}, testInfo, handler)

	assert.Nil(t, resp)
	st := statusOf(t, err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, msgInternal, st.Message())
	assert.Equal(t, apperr.KindInternal, FromStatus(st).Kind)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = requestid.FromContext(ctx)
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestid.MetadataKey, "from-gateway"))
	_, err := RequestID()(ctx, nil, testInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, "from-gateway", seen)

	_, err = RequestID()(context.Background(), nil, testInfo, handler)
	require.NoError(t, err)
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "from-gateway", seen)
}

func TestKeyCase(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"container":     "users",
		"partition_key": "eu",
		"document":      map[string]any{"first_name": "Ada", "tags": []any{map[string]any{"tag_name": "x"}}},
	})
	require.NoError(t, err)

	var seen map[string]any
	handler := func(_ context.Context, req any) (any, error) {
		seen = req.(*structpb.Struct).AsMap()
		return structpb.NewStruct(map[string]any{"document": map[string]any{"createdAt": "t", "firstName": "Ada"}})
	}

	resp, err := KeyCase()(context.Background(), in, testInfo, handler)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"container":    "users",
		"partitionKey": "eu",
		"document":     map[string]any{"firstName": "Ada", "tags": []any{map[string]any{"tagName": "x"}}},
	}, seen)
	assert.Equal(t, map[string]any{
		"document": map[string]any{"created_at": "t", "first_name": "Ada"},
	}, resp.(*structpb.Struct).AsMap())
}

type recordingObserver struct {
	method, code string
}

func (o *recordingObserver) ObserveRPC(method, code string, _ time.Duration) {
	o.method, o.code = method, code
}

func TestServerInterceptors_RenderTimeoutsThroughChain(t *testing.T) {
	obs := &recordingObserver{}
	chained := chainUnary(ServerInterceptors(NewErrorChain(false), 20*time.Millisecond, obs))

	handler := func(ctx context.Context, _ any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := chained(context.Background(), &structpb.Struct{}, testInfo, handler)
	e := FromStatus(statusOf(t, err))
	assert.Equal(t, apperr.KindTimeout, e.Kind)
	assert.NotEmpty(t, e.RequestID)
	assert.Equal(t, FullMethod(MethodGet), obs.method)
	assert.Equal(t, "DeadlineExceeded", obs.code)
}

// chainUnary composes interceptors the way grpc.ChainUnaryInterceptor does.
func chainUnary(interceptors []grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, inner := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, inner)
			}
		}
		return next(ctx, req)
	}
}
