package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/infrastructure/http/response"
	"github.com/rezkam/docrepo/internal/keycase"
	"github.com/rezkam/docrepo/internal/requestid"
)

// DocumentClient is the RPC surface the gateway forwards to.
type DocumentClient interface {
	Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// Gateway translates HTTP requests into document service calls.
// Request keys travel camelCase over HTTP and snake_case over RPC.
type Gateway struct {
	client DocumentClient
	errors *response.ErrorWriter
}

// NewGateway creates a gateway. In development mode error bodies carry debug detail.
func NewGateway(client DocumentClient, dev bool) *Gateway {
	return &Gateway{
		client: client,
		errors: response.NewErrorWriter(dev),
	}
}

// NewRouter builds the /v1 routes on a grpc-gateway mux.
// Unknown paths and methods get the standard error body.
func NewRouter(client DocumentClient, dev bool) (http.Handler, error) {
	g := NewGateway(client, dev)
	mux := runtime.NewServeMux(runtime.WithRoutingErrorHandler(routingError))
	if err := g.Register(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

func routingError(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, r *http.Request, httpStatus int) {
	msg := "Route not found"
	if httpStatus == http.StatusMethodNotAllowed {
		msg = "Method not allowed"
	}
	response.Status(w, r, httpStatus, msg)
}

// forward sends req to method and returns the camelCase response.
// On failure the error is written and ok is false.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, method string, req map[string]any) (map[string]any, bool) {
	ctx := r.Context()
	in, err := structpb.NewStruct(keycase.Map(req, keycase.CamelToSnake))
	if err != nil {
		g.errors.Write(w, r, apperr.Wrap(apperr.KindInvalidArgument, "gateway."+method, "Request contains unsupported values", err))
		return nil, false
	}

	if id := requestid.FromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestid.MetadataKey, id)
	}
	out, err := g.client.Call(ctx, method, in)
	if err != nil {
		slog.DebugContext(ctx, "document call failed",
			"method", method,
			"error", err)
		g.errors.Write(w, r, err)
		return nil, false
	}
	return keycase.Map(out.AsMap(), keycase.SnakeToCamel), true
}

var errEmptyBody = errors.New("request body is empty")

// decodeBody reads a JSON body into v.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func (g *Gateway) badBody(w http.ResponseWriter, r *http.Request, op string, want string, err error) {
	msg := fmt.Sprintf("Request body must be a JSON %s", want)
	if errors.Is(err, errEmptyBody) {
		msg = errEmptyBody.Error()
	}
	g.errors.Write(w, r, apperr.Wrap(apperr.KindInvalidArgument, op, msg, err))
}
