package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/application/documents"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/rezkam/docrepo/internal/connection"
	"github.com/rezkam/docrepo/internal/docstore"
	gateway "github.com/rezkam/docrepo/internal/infrastructure/http"
	"github.com/rezkam/docrepo/internal/infrastructure/http/handler"
	"github.com/rezkam/docrepo/internal/infrastructure/http/response"
	"github.com/rezkam/docrepo/internal/infrastructure/metrics"
	"github.com/rezkam/docrepo/internal/infrastructure/rpc"
	"github.com/rezkam/docrepo/internal/pagination"
	"github.com/rezkam/docrepo/internal/requestid"
)

// startGateway runs the whole pipeline in process:
// HTTP gateway -> gRPC document service -> sqlite.
func startGateway(t *testing.T) *httptest.Server {
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
	srv := rpc.NewGRPCServer(config.GRPCConfig{CallTimeout: 5 * time.Second}, docs, rpc.ServerOptions{})
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

	router, err := handler.NewRouter(rpc.NewClient(conn), false)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	mtr, err := metrics.New(reg)
	require.NoError(t, err)

	api := gateway.NewAPIServer(router, config.HTTPConfig{MaxBodyBytes: 4096}, gateway.Options{
		Metrics:  mtr,
		Gatherer: reg,
	})
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type result struct {
	status int
	header http.Header
	body   []byte
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, headers ...string) result {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return result{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (r result) data(t *testing.T) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.body, &env), string(r.body))
	return env.Data
}

func (r result) error(t *testing.T) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(r.body, &body), string(r.body))
	return body
}

const usersPath = "/v1/containers/users/documents"

func TestGateway_DocumentLifecycle(t *testing.T) {
	ts := startGateway(t)

	created := do(t, ts, http.MethodPost, usersPath, map[string]any{
		"partitionKey": "eu",
		"firstName":    "Ada",
		"email":        "ada@example.com",
		"address":      map[string]any{"streetName": "Main"},
	})
	require.Equal(t, http.StatusCreated, created.status, string(created.body))
	assert.NotEmpty(t, created.header.Get(requestid.Header))
	doc := created.data(t)
	assert.Equal(t, "Ada", doc["firstName"])
	assert.Equal(t, "eu", doc["partitionKey"])
	assert.Equal(t, map[string]any{"streetName": "Main"}, doc["address"])
	assert.Equal(t, float64(1), doc["version"])
	assert.NotEmpty(t, doc["createdAt"])
	id := doc["id"].(string)
	docPath := usersPath + "/eu/" + id

	got := do(t, ts, http.MethodGet, docPath, nil)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, id, got.data(t)["id"])

	patched := do(t, ts, http.MethodPatch, docPath, map[string]any{"firstName": "Ada L."})
	require.Equal(t, http.StatusOK, patched.status, string(patched.body))
	assert.Equal(t, "Ada L.", patched.data(t)["firstName"])
	assert.Equal(t, float64(2), patched.data(t)["version"])

	deleted := do(t, ts, http.MethodDelete, docPath, nil)
	assert.Equal(t, http.StatusNoContent, deleted.status)

	missing := do(t, ts, http.MethodGet, docPath, nil)
	assert.Equal(t, http.StatusNotFound, missing.status)
	body := missing.error(t)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
	assert.Equal(t, "Document not found", body.Message)
	assert.Equal(t, "NOT_FOUND", body.Error)
	assert.Equal(t, "NOT_FOUND", body.Details["type"])
	assert.Equal(t, docPath, body.Path)
	assert.Equal(t, http.MethodGet, body.Method)
	assert.NotEmpty(t, body.RequestID)
}

func TestGateway_UpsertTakesIDFromPath(t *testing.T) {
	ts := startGateway(t)

	res := do(t, ts, http.MethodPut, usersPath+"/eu/p-1", map[string]any{"id": "ignored", "name": "first"})
	require.Equal(t, http.StatusOK, res.status, string(res.body))
	doc := res.data(t)
	assert.Equal(t, "p-1", doc["id"])
	assert.Equal(t, "eu", doc["partitionKey"])

	res = do(t, ts, http.MethodPut, usersPath+"/eu/p-1", map[string]any{"name": "second"})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "second", res.data(t)["name"])
}

func TestGateway_ListAndQueries(t *testing.T) {
	ts := startGateway(t)

	bulk := do(t, ts, http.MethodPost, usersPath+"/bulk", []any{
		map[string]any{"id": "a", "partitionKey": "eu", "email": "a@example.com", "team": "core"},
		map[string]any{"id": "b", "partitionKey": "eu", "email": "b@example.com", "team": "core"},
		map[string]any{"id": "c", "partitionKey": "us", "email": "c@example.com", "team": "ops"},
	})
	require.Equal(t, http.StatusCreated, bulk.status, string(bulk.body))

	page := do(t, ts, http.MethodGet, usersPath+"?pageSize=2&sortBy=id&sortOrder=asc", nil)
	require.Equal(t, http.StatusOK, page.status, string(page.body))
	data := page.data(t)
	items := data["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].(map[string]any)["id"])
	meta := data["meta"].(map[string]any)
	assert.Equal(t, float64(3), meta["totalCount"])
	assert.Equal(t, true, meta["hasNextPage"])
	token := page.header.Get(pagination.ContinuationTokenHeader)
	require.NotEmpty(t, token)
	assert.Equal(t, token, data["continuationToken"])

	next := do(t, ts, http.MethodGet, usersPath, nil, pagination.ContinuationTokenHeader, token)
	require.Equal(t, http.StatusOK, next.status)
	items = next.data(t)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].(map[string]any)["id"])

	filtered := do(t, ts, http.MethodGet, usersPath+"?filter="+url.QueryEscape(`{"team":"core"}`), nil)
	require.Equal(t, http.StatusOK, filtered.status)
	assert.Len(t, filtered.data(t)["items"], 2)

	one := do(t, ts, http.MethodPost, "/v1/containers/users/query/one", map[string]any{
		"filter": map[string]any{"email": "c@example.com"},
	})
	require.Equal(t, http.StatusOK, one.status, string(one.body))
	assert.Equal(t, "c", one.data(t)["id"])

	exists := do(t, ts, http.MethodPost, "/v1/containers/users/query/exists", map[string]any{
		"filter": map[string]any{"team": "nobody"},
	})
	require.Equal(t, http.StatusOK, exists.status)
	assert.Equal(t, false, exists.data(t)["exists"])
}

func TestGateway_ConflictEchoesRequestID(t *testing.T) {
	ts := startGateway(t)
	doc := map[string]any{"partitionKey": "eu", "email": "dup@example.com"}

	first := do(t, ts, http.MethodPost, usersPath, doc)
	require.Equal(t, http.StatusCreated, first.status)

	dup := do(t, ts, http.MethodPost, usersPath, doc, requestid.Header, "req-e2e")
	assert.Equal(t, http.StatusConflict, dup.status)
	assert.Equal(t, "req-e2e", dup.header.Get(requestid.Header))
	body := dup.error(t)
	assert.Equal(t, apperr.MsgDuplicateEntity, body.Message)
	assert.Equal(t, "req-e2e", body.RequestID)
	assert.Equal(t, "CONFLICT", body.Error)
	assert.Equal(t, map[string]any{
		"type":           "CONFLICT",
		"operation":      "users.create",
		"storeErrorCode": float64(409),
	}, body.Details)
}

func TestGateway_DomainErrorKeepsFieldAndReason(t *testing.T) {
	ts := startGateway(t)

	res := do(t, ts, http.MethodGet, usersPath+"?sortBy=bad-field", nil)
	require.Equal(t, http.StatusBadRequest, res.status, string(res.body))
	body := res.error(t)
	assert.Equal(t, "INVALID_ARGUMENT", body.Error)
	assert.Equal(t, "sortBy: is not a valid field name", body.Message)
	assert.Equal(t, "INVALID_ARGUMENT", body.Details["type"])
	assert.Equal(t, "users.findAll", body.Details["operation"])
	assert.Equal(t, "sortBy", body.Details["field"])
	assert.Equal(t, "is not a valid field name", body.Details["reason"])
	assert.Equal(t, body.RequestID, res.header.Get(requestid.Header))
}

func TestGateway_BadRequests(t *testing.T) {
	ts := startGateway(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"empty body", http.MethodPost, usersPath, nil, http.StatusBadRequest},
		{"body not an object", http.MethodPost, usersPath, `[1,2]`, http.StatusBadRequest},
		{"bulk body not an array", http.MethodPost, usersPath + "/bulk", `{}`, http.StatusBadRequest},
		{"filter not json", http.MethodGet, usersPath + "?filter=nope", nil, http.StatusBadRequest},
		{"invalid container name", http.MethodGet, "/v1/containers/bad%20name/documents", nil, http.StatusBadRequest},
		{"unknown container", http.MethodGet, "/v1/containers/ghost/documents", nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/v1/nothing", nil, http.StatusNotFound},
		{"body too large", http.MethodPost, usersPath, `{"blob":"` + strings.Repeat("x", 8192) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, res.status, string(res.body))
			body := res.error(t)
			assert.Equal(t, tt.wantStatus, body.StatusCode)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.RequestID)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, body.Error, body.Details["type"])
		})
	}
}

func TestGateway_ValidationDetails(t *testing.T) {
	ts := startGateway(t)

	res := do(t, ts, http.MethodGet, usersPath+"?filter=%5B%5D", nil)
	require.Equal(t, http.StatusBadRequest, res.status)
	body := res.error(t)
	assert.Equal(t, "INVALID_ARGUMENT", body.Error)
	assert.Equal(t, map[string]any{"filter": []any{"must be a JSON object"}}, body.Details["violations"])
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	ts := startGateway(t)

	health := do(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, health.status)
	assert.JSONEq(t, `{"status":"ok"}`, string(health.body))

	do(t, ts, http.MethodGet, "/v1/containers/users/documents", nil)
	m := do(t, ts, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, m.status)
	assert.Contains(t, string(m.body), "docrepo_http_requests_total")
}
