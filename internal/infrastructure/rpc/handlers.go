package rpc

import (
	"context"
	"encoding/json"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/application/documents"
	"github.com/rezkam/docrepo/internal/pagination"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Documents is the application API the handlers drive.
type Documents interface {
	Create(ctx context.Context, container string, fields map[string]any) (*documents.Record, error)
	Get(ctx context.Context, container, id, partitionKey string) (*documents.Record, error)
	List(ctx context.Context, container string, opts pagination.Options) (*pagination.Result[*documents.Record], error)
	FindOne(ctx context.Context, container string, filter map[string]any) (*documents.Record, bool, error)
	Exists(ctx context.Context, container string, filter map[string]any) (bool, error)
	Update(ctx context.Context, container, id, partitionKey string, patch map[string]any) (*documents.Record, error)
	Upsert(ctx context.Context, container string, fields map[string]any) (*documents.Record, error)
	Delete(ctx context.Context, container, id, partitionKey string) error
	BulkCreate(ctx context.Context, container string, docs []map[string]any) ([]*documents.Record, error)
}

// Server implements DocumentServer on top of Documents.
type Server struct {
	docs Documents
}

var _ DocumentServer = (*Server)(nil)

// NewServer creates the handlers.
func NewServer(docs Documents) *Server {
	return &Server{docs: docs}
}

func (s *Server) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.create", in)
	container := req.str("container", true)
	doc := req.obj("document", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	rec, err := s.docs.Create(ctx, container, doc)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.create", map[string]any{"document": rec})
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.get", in)
	container, id, pk := req.key()
	if err := req.err(); err != nil {
		return nil, err
	}
	rec, err := s.docs.Get(ctx, container, id, pk)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.get", map[string]any{"document": rec})
}

func (s *Server) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.list", in)
	container := req.str("container", true)
	opts := pagination.Options{
		PageSize:          req.integer("pageSize"),
		PageNumber:        req.integer("pageNumber"),
		SortBy:            req.str("sortBy", false),
		SortOrder:         pagination.ParseSortOrder(req.str("sortOrder", false)),
		Filter:            req.obj("filter", false),
		ContinuationToken: req.str("continuationToken", false),
	}
	if err := req.err(); err != nil {
		return nil, err
	}
	page, err := s.docs.List(ctx, container, opts)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.list", page)
}

func (s *Server) FindOne(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.findOne", in)
	container := req.str("container", true)
	filter := req.obj("filter", false)
	if err := req.err(); err != nil {
		return nil, err
	}
	rec, found, err := s.docs.FindOne(ctx, container, filter)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"found": found}
	if found {
		out["document"] = rec
	}
	return toStruct("rpc.findOne", out)
}

func (s *Server) Exists(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.exists", in)
	container := req.str("container", true)
	filter := req.obj("filter", false)
	if err := req.err(); err != nil {
		return nil, err
	}
	exists, err := s.docs.Exists(ctx, container, filter)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.exists", map[string]any{"exists": exists})
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.update", in)
	container, id, pk := req.key()
	patch := req.obj("patch", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	rec, err := s.docs.Update(ctx, container, id, pk, patch)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.update", map[string]any{"document": rec})
}

func (s *Server) Upsert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.upsert", in)
	container := req.str("container", true)
	doc := req.obj("document", true)
	if err := req.err(); err != nil {
		return nil, err
	}
	rec, err := s.docs.Upsert(ctx, container, doc)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.upsert", map[string]any{"document": rec})
}

func (s *Server) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.delete", in)
	container, id, pk := req.key()
	if err := req.err(); err != nil {
		return nil, err
	}
	if err := s.docs.Delete(ctx, container, id, pk); err != nil {
		return nil, err
	}
	return &structpb.Struct{}, nil
}

func (s *Server) BulkCreate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := newRequest("rpc.bulkCreate", in)
	container := req.str("container", true)
	docs := req.objs("documents")
	if err := req.err(); err != nil {
		return nil, err
	}
	recs, err := s.docs.BulkCreate(ctx, container, docs)
	if err != nil {
		return nil, err
	}
	return toStruct("rpc.bulkCreate", map[string]any{"documents": recs})
}

// request reads typed fields out of a struct and collects violations.
type request struct {
	op         string
	fields     map[string]any
	violations map[string][]string
}

func newRequest(op string, in *structpb.Struct) *request {
	return &request{op: op, fields: in.AsMap()}
}

func (r *request) violate(field, msg string) {
	if r.violations == nil {
		r.violations = make(map[string][]string)
	}
	r.violations[field] = append(r.violations[field], msg)
}

func (r *request) str(field string, required bool) string {
	v, ok := r.fields[field]
	if !ok || v == nil {
		if required {
			r.violate(field, "is required")
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.violate(field, "must be a string")
		return ""
	}
	if required && s == "" {
		r.violate(field, "must not be empty")
	}
	return s
}

func (r *request) integer(field string) int {
	v, ok := r.fields[field]
	if !ok || v == nil {
		return 0
	}
	n, ok := v.(float64)
	if !ok || n != float64(int(n)) {
		r.violate(field, "must be an integer")
		return 0
	}
	return int(n)
}

func (r *request) obj(field string, required bool) map[string]any {
	v, ok := r.fields[field]
	if !ok || v == nil {
		if required {
			r.violate(field, "is required")
		}
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		r.violate(field, "must be an object")
		return nil
	}
	return m
}

func (r *request) objs(field string) []map[string]any {
	v, ok := r.fields[field]
	if !ok || v == nil {
		r.violate(field, "is required")
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		r.violate(field, "must be an array")
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			r.violate(field, "must contain only objects")
			return nil
		}
		out = append(out, m)
	}
	return out
}

// key reads the container, id and partition key addressing one document.
func (r *request) key() (container, id, partitionKey string) {
	return r.str("container", true), r.str("id", true), r.str("partitionKey", true)
}

func (r *request) err() error {
	if len(r.violations) == 0 {
		return nil
	}
	return apperr.Validation(r.op, r.violations)
}

// toStruct converts a JSON-serializable value into a struct.
func toStruct(op string, v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}
