package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rezkam/docrepo/internal/docstore"
	"google.golang.org/api/googleapi"
)

func (s *Store) Create(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	if err := s.checkUnique(ctx, ref, item); err != nil {
		return docstore.Item{}, err
	}
	obj := s.bucket.Object(documentObject(ref, item.ID, item.PartitionKey))
	err := s.writeJSON(ctx, obj, storage.Conditions{DoesNotExist: true}, toEnvelope(item))
	if isPreconditionFailed(err) {
		return docstore.Item{}, docstore.NewError(docstore.StatusConflict, docstore.MsgEntityExists, err)
	}
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, error) {
	item, _, err := s.read(ctx, ref, id, partitionKey)
	return item, err
}

func (s *Store) read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, int64, error) {
	var env envelope
	gen, err := s.readJSON(ctx, s.bucket.Object(documentObject(ref, id, partitionKey)), &env)
	if err != nil {
		return docstore.Item{}, 0, translate(err)
	}
	return env.item(), gen, nil
}

// Replace checks the stored version, then writes under a generation
// precondition so a concurrent writer between the two steps also loses.
func (s *Store) Replace(ctx context.Context, ref docstore.ContainerRef, item docstore.Item, ifVersion int64) (docstore.Item, error) {
	current, gen, err := s.read(ctx, ref, item.ID, item.PartitionKey)
	if err != nil {
		return docstore.Item{}, err
	}
	if current.Version != ifVersion {
		return docstore.Item{}, docstore.NewError(docstore.StatusPreconditionFailed, docstore.MsgVersionMismatch,
			fmt.Errorf("expected version %d, found %d", ifVersion, current.Version))
	}
	if err := s.checkUnique(ctx, ref, item); err != nil {
		return docstore.Item{}, err
	}

	item.CreatedAt = current.CreatedAt
	obj := s.bucket.Object(documentObject(ref, item.ID, item.PartitionKey))
	err = s.writeJSON(ctx, obj, storage.Conditions{GenerationMatch: gen}, toEnvelope(item))
	if isPreconditionFailed(err) {
		return docstore.Item{}, docstore.NewError(docstore.StatusPreconditionFailed, docstore.MsgVersionMismatch, err)
	}
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return item, nil
}

// Upsert reports a lost race as 449 so the client retries it.
func (s *Store) Upsert(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	if err := s.checkUnique(ctx, ref, item); err != nil {
		return docstore.Item{}, err
	}

	cond := storage.Conditions{DoesNotExist: true}
	current, gen, err := s.read(ctx, ref, item.ID, item.PartitionKey)
	switch {
	case err == nil:
		item.CreatedAt = current.CreatedAt
		item.Version = current.Version + 1
		cond = storage.Conditions{GenerationMatch: gen}
	case !docstore.IsNotFound(err):
		return docstore.Item{}, err
	}

	obj := s.bucket.Object(documentObject(ref, item.ID, item.PartitionKey))
	err = s.writeJSON(ctx, obj, cond, toEnvelope(item))
	if isPreconditionFailed(err) {
		return docstore.Item{}, docstore.NewError(docstore.StatusRetryWith, "Concurrent write, retry the upsert.", err)
	}
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) error {
	return translate(s.bucket.Object(documentObject(ref, id, partitionKey)).Delete(ctx))
}

func (s *Store) Query(ctx context.Context, ref docstore.ContainerRef, q docstore.Query) ([]docstore.Item, error) {
	items, bodies, err := s.loadAll(ctx, ref)
	if err != nil {
		return nil, err
	}
	matched := make([]docstore.Item, 0, len(items))
	for _, it := range items {
		if docstore.Matches(it, bodies[docstore.BodyKey(it)], q.Conditions) {
			matched = append(matched, it)
		}
	}
	docstore.SortItems(matched, bodies, q.SortBy, q.Descending)
	return docstore.Window(matched, q.Offset, q.Limit), nil
}

func (s *Store) Count(ctx context.Context, ref docstore.ContainerRef, conds []docstore.Condition) (int64, error) {
	items, bodies, err := s.loadAll(ctx, ref)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, it := range items {
		if docstore.Matches(it, bodies[docstore.BodyKey(it)], conds) {
			n++
		}
	}
	return n, nil
}

// CreateBatch has no transaction to lean on; on failure it deletes the
// documents it already wrote.
func (s *Store) CreateBatch(ctx context.Context, ref docstore.ContainerRef, items []docstore.Item) ([]docstore.Item, error) {
	created := make([]docstore.Item, 0, len(items))
	for i, item := range items {
		out, err := s.Create(ctx, ref, item)
		if err != nil {
			s.compensate(ctx, ref, created)
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		created = append(created, out)
	}
	return created, nil
}

func (s *Store) compensate(ctx context.Context, ref docstore.ContainerRef, created []docstore.Item) {
	for _, it := range created {
		if err := s.Delete(context.WithoutCancel(ctx), ref, it.ID, it.PartitionKey); err != nil && !docstore.IsNotFound(err) {
			slog.ErrorContext(ctx, "failed to roll back batch item",
				"container", ref.String(),
				"id", it.ID,
				"error", err)
		}
	}
}

func isPreconditionFailed(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed
}

// translate maps Cloud Storage failures onto store status codes.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var se *docstore.Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return docstore.NewError(docstore.StatusNotFound, docstore.MsgEntityNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return docstore.NewError(docstore.StatusRequestTimeout, "Request timed out", err)
	}

	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return docstore.NewError(docstore.StatusInternal, err.Error(), err)
	}

	out := &docstore.Error{Message: gErr.Message, Err: err}
	if gErr.Header != nil {
		out.ActivityID = gErr.Header.Get("X-Guploader-Uploadid")
	}
	switch gErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusRequestTimeout, http.StatusConflict, http.StatusPreconditionFailed,
		http.StatusTooManyRequests, http.StatusServiceUnavailable:
		out.Code = gErr.Code
	default:
		out.Code = docstore.StatusInternal
	}
	if out.Message == "" {
		out.Message = http.StatusText(out.Code)
	}
	return out
}
