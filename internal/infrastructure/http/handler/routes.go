package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/infrastructure/http/response"
	"github.com/rezkam/docrepo/internal/infrastructure/rpc"
	"github.com/rezkam/docrepo/internal/pagination"
)

const (
	documentsPath = "/v1/containers/{container}/documents"
	documentPath  = documentsPath + "/{partitionKey}/{id}"
	queryPath     = "/v1/containers/{container}/query"
)

// Register mounts every document route on mux.
func (g *Gateway) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodPost, documentsPath, g.CreateDocument},
		{http.MethodPost, documentsPath + "/bulk", g.BulkCreateDocuments},
		{http.MethodGet, documentsPath, g.ListDocuments},
		{http.MethodGet, documentPath, g.GetDocument},
		{http.MethodPatch, documentPath, g.UpdateDocument},
		{http.MethodPut, documentPath, g.UpsertDocument},
		{http.MethodDelete, documentPath, g.DeleteDocument},
		{http.MethodPost, queryPath + "/one", g.FindOneDocument},
		{http.MethodPost, queryPath + "/exists", g.DocumentExists},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return err
		}
	}
	return nil
}

// CreateDocument handles POST /v1/containers/{container}/documents.
func (g *Gateway) CreateDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var doc map[string]any
	if err := decodeBody(r, &doc); err != nil || doc == nil {
		g.badBody(w, r, "gateway.create", "object", err)
		return
	}
	out, ok := g.forward(w, r, rpc.MethodCreate, map[string]any{
		"container": params["container"],
		"document":  doc,
	})
	if !ok {
		return
	}
	response.Created(w, r, out["document"])
}

// BulkCreateDocuments handles POST /v1/containers/{container}/documents/bulk.
// The body is an array of documents; all are written or none are.
func (g *Gateway) BulkCreateDocuments(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var docs []any
	if err := decodeBody(r, &docs); err != nil || docs == nil {
		g.badBody(w, r, "gateway.bulkCreate", "array", err)
		return
	}
	out, ok := g.forward(w, r, rpc.MethodBulkCreate, map[string]any{
		"container": params["container"],
		"documents": docs,
	})
	if !ok {
		return
	}
	response.Created(w, r, out["documents"])
}

// ListDocuments handles GET /v1/containers/{container}/documents.
func (g *Gateway) ListDocuments(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	req := map[string]any{"container": params["container"]}

	for _, name := range []string{"pageSize", "pageNumber"} {
		// Unparseable numbers are left for the normalizer to default.
		if n, err := strconv.Atoi(q.Get(name)); err == nil {
			req[name] = n
		}
	}
	for _, name := range []string{"sortBy", "sortOrder"} {
		if v := q.Get(name); v != "" {
			req[name] = v
		}
	}

	token := q.Get("continuationToken")
	if token == "" {
		token = r.Header.Get(pagination.ContinuationTokenHeader)
	}
	if token != "" {
		req["continuationToken"] = token
	}

	if raw := q.Get("filter"); raw != "" {
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err != nil || filter == nil {
			g.errors.Write(w, r, apperr.Validation("gateway.list", map[string][]string{
				"filter": {"must be a JSON object"},
			}))
			return
		}
		req["filter"] = filter
	}

	out, ok := g.forward(w, r, rpc.MethodList, req)
	if !ok {
		return
	}
	if next, _ := out["continuationToken"].(string); next != "" {
		w.Header().Set(pagination.ContinuationTokenHeader, next)
	}
	response.OK(w, r, out)
}

// GetDocument handles GET /v1/containers/{container}/documents/{partitionKey}/{id}.
func (g *Gateway) GetDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	out, ok := g.forward(w, r, rpc.MethodGet, documentKey(params))
	if !ok {
		return
	}
	response.OK(w, r, out["document"])
}

// UpdateDocument handles PATCH /v1/containers/{container}/documents/{partitionKey}/{id}.
func (g *Gateway) UpdateDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil || patch == nil {
		g.badBody(w, r, "gateway.update", "object", err)
		return
	}
	req := documentKey(params)
	req["patch"] = patch
	out, ok := g.forward(w, r, rpc.MethodUpdate, req)
	if !ok {
		return
	}
	response.OK(w, r, out["document"])
}

// UpsertDocument handles PUT /v1/containers/{container}/documents/{partitionKey}/{id}.
// The path id always wins; the path partition key fills in when the body has none.
func (g *Gateway) UpsertDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var doc map[string]any
	if err := decodeBody(r, &doc); err != nil || doc == nil {
		g.badBody(w, r, "gateway.upsert", "object", err)
		return
	}
	doc["id"] = params["id"]
	if _, ok := doc["partitionKey"]; !ok {
		doc["partitionKey"] = params["partitionKey"]
	}
	out, ok := g.forward(w, r, rpc.MethodUpsert, map[string]any{
		"container": params["container"],
		"document":  doc,
	})
	if !ok {
		return
	}
	response.OK(w, r, out["document"])
}

// DeleteDocument handles DELETE /v1/containers/{container}/documents/{partitionKey}/{id}.
func (g *Gateway) DeleteDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if _, ok := g.forward(w, r, rpc.MethodDelete, documentKey(params)); !ok {
		return
	}
	response.NoContent(w)
}

// queryBody is the body of the query routes.
type queryBody struct {
	Filter map[string]any `json:"filter"`
}

func (b queryBody) request(params map[string]string) map[string]any {
	req := map[string]any{"container": params["container"]}
	if b.Filter != nil {
		req["filter"] = b.Filter
	}
	return req
}

// FindOneDocument handles POST /v1/containers/{container}/query/one.
// The data is the matching document, or null when nothing matches.
func (g *Gateway) FindOneDocument(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body queryBody
	if err := decodeBody(r, &body); err != nil {
		g.badBody(w, r, "gateway.findOne", "object", err)
		return
	}
	out, ok := g.forward(w, r, rpc.MethodFindOne, body.request(params))
	if !ok {
		return
	}
	response.OK(w, r, out["document"])
}

// DocumentExists handles POST /v1/containers/{container}/query/exists.
func (g *Gateway) DocumentExists(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var body queryBody
	if err := decodeBody(r, &body); err != nil {
		g.badBody(w, r, "gateway.exists", "object", err)
		return
	}
	out, ok := g.forward(w, r, rpc.MethodExists, body.request(params))
	if !ok {
		return
	}
	response.OK(w, r, map[string]any{"exists": out["exists"]})
}

func documentKey(params map[string]string) map[string]any {
	return map[string]any{
		"container":    params["container"],
		"id":           params["id"],
		"partitionKey": params["partitionKey"],
	}
}
