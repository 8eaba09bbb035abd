package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/application/documents"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/rezkam/docrepo/internal/connection"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func statusOf(t *testing.T, err error) *status.Status {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status: %v", err)
	return st
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func startServer(t *testing.T) *Client {
	t.Helper()

	m := connection.NewManager(connection.Config{
		Endpoint: "sqlite::memory:",
		Database: "app",
		Retry: docstore.RetryPolicy{
			RequestTimeout: 5 * time.Second,
			RetryInterval:  time.Millisecond,
			MaxWait:        time.Second,
		},
		AutoMigrate: true,
	})
	t.Cleanup(func() { _ = m.Close() })

	docs := documents.NewService(m, documents.WithCatalog([]docstore.ContainerSpec{
		{ID: "users", UniqueKeys: []docstore.UniqueKey{{Paths: []string{"/email"}}}},
	}))

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(config.GRPCConfig{CallTimeout: 5 * time.Second}, docs, ServerOptions{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestDocumentService_RoundTrip(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	created, err := client.Create(ctx, mustStruct(t, map[string]any{
		"container": "users",
		"document": map[string]any{
			"partition_key": "eu",
			"first_name":    "Ada",
			"email":         "ada@example.com",
		},
	}))
	require.NoError(t, err)
	doc := created.AsMap()["document"].(map[string]any)
	assert.Equal(t, "eu", doc["partition_key"])
	assert.Equal(t, "Ada", doc["first_name"])
	assert.Equal(t, float64(1), doc["version"])
	assert.NotEmpty(t, doc["created_at"])
	id := doc["id"].(string)

	key := map[string]any{"container": "users", "id": id, "partition_key": "eu"}

	got, err := client.Get(ctx, mustStruct(t, key))
	require.NoError(t, err)
	assert.Equal(t, id, got.AsMap()["document"].(map[string]any)["id"])

	updated, err := client.Update(ctx, mustStruct(t, map[string]any{
		"container":     "users",
		"id":            id,
		"partition_key": "eu",
		"patch":         map[string]any{"first_name": "Ada L."},
	}))
	require.NoError(t, err)
	udoc := updated.AsMap()["document"].(map[string]any)
	assert.Equal(t, float64(2), udoc["version"])
	assert.Equal(t, "Ada L.", udoc["first_name"])

	list, err := client.List(ctx, mustStruct(t, map[string]any{"container": "users", "page_size": 10}))
	require.NoError(t, err)
	lm := list.AsMap()
	assert.Len(t, lm["items"], 1)
	assert.Equal(t, float64(1), lm["meta"].(map[string]any)["total_count"])

	exists, err := client.Exists(ctx, mustStruct(t, map[string]any{
		"container": "users",
		"filter":    map[string]any{"email": "ada@example.com"},
	}))
	require.NoError(t, err)
	assert.Equal(t, true, exists.AsMap()["exists"])

	one, err := client.FindOne(ctx, mustStruct(t, map[string]any{
		"container": "users",
		"filter":    map[string]any{"email": "nobody@example.com"},
	}))
	require.NoError(t, err)
	assert.Equal(t, false, one.AsMap()["found"])

	_, err = client.Delete(ctx, mustStruct(t, key))
	require.NoError(t, err)

	_, err = client.Get(ctx, mustStruct(t, key))
	assert.Equal(t, codes.NotFound, statusOf(t, err).Code())
}

func TestDocumentService_ErrorsCarryMetadata(t *testing.T) {
	client := startServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), requestid.MetadataKey, "req-7")

	doc := map[string]any{"partition_key": "eu", "email": "dup@example.com"}
	_, err := client.Create(ctx, mustStruct(t, map[string]any{"container": "users", "document": doc}))
	require.NoError(t, err)

	var trailer metadata.MD
	_, err = client.Create(ctx, mustStruct(t, map[string]any{"container": "users", "document": doc}), grpc.Trailer(&trailer))
	st := statusOf(t, err)
	assert.Equal(t, codes.AlreadyExists, st.Code())
	assert.Equal(t, apperr.MsgDuplicateEntity, st.Message())
	assert.Equal(t, []string{"req-7"}, trailer.Get(requestid.MetadataKey))

	e := FromStatus(st)
	assert.Equal(t, apperr.KindConflict, e.Kind)
	assert.Equal(t, 409, e.StoreCode)
	assert.Equal(t, "req-7", e.RequestID)
}

func TestDocumentService_ValidationErrors(t *testing.T) {
	client := startServer(t)

	_, err := client.Get(context.Background(), mustStruct(t, map[string]any{"container": "users"}))
	st := statusOf(t, err)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	e := FromStatus(st)
	assert.True(t, e.IsValidation())
	assert.Contains(t, e.Violations, "id")
	assert.Contains(t, e.Violations, "partitionKey")
}

func TestDocumentService_BulkCreate(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	resp, err := client.BulkCreate(ctx, mustStruct(t, map[string]any{
		"container": "users",
		"documents": []any{
			map[string]any{"id": "a", "partition_key": "eu"},
			map[string]any{"id": "b", "partition_key": "eu"},
		},
	}))
	require.NoError(t, err)
	assert.Len(t, resp.AsMap()["documents"], 2)

	_, err = client.BulkCreate(ctx, mustStruct(t, map[string]any{
		"container": "users",
		"documents": []any{
			map[string]any{"id": "c", "partition_key": "eu"},
			map[string]any{"id": "a", "partition_key": "eu"},
		},
	}))
	assert.Equal(t, codes.AlreadyExists, statusOf(t, err).Code())

	_, err = client.Get(ctx, mustStruct(t, map[string]any{"container": "users", "id": "c", "partition_key": "eu"}))
	assert.Equal(t, codes.NotFound, statusOf(t, err).Code())
}
