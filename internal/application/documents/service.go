// Package documents exposes the generic repository over named containers of
// schemaless records. It is what the RPC service and the CLI drive.
package documents

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/pagination"
	"github.com/rezkam/docrepo/internal/repository"
)

const msgDocumentNotFound = "Document not found"

// DatabaseProvider hands out the database handle, connecting on first use.
type DatabaseProvider interface {
	Database(ctx context.Context) (*docstore.Database, error)
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the point-read cache on every container repository.
func WithCache(c repository.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCatalog declares containers the service may provision on first use.
func WithCatalog(specs []docstore.ContainerSpec) Option {
	return func(s *Service) {
		for _, spec := range specs {
			s.catalog[spec.ID] = spec.WithDefaults()
		}
	}
}

// Service manages one repository per container.
type Service struct {
	db      DatabaseProvider
	cache   repository.Cache
	catalog map[string]docstore.ContainerSpec

	mu    sync.RWMutex
	repos map[string]*repository.Repository[*Record]
}

// NewService creates a document service over db.
func NewService(db DatabaseProvider, opts ...Option) *Service {
	s := &Service{
		db:      db,
		catalog: make(map[string]docstore.ContainerSpec),
		repos:   make(map[string]*repository.Repository[*Record]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL is the path pagination links for container are built on.
func BaseURL(container string) string {
	return "/v1/containers/" + container + "/documents"
}

// Sync provisions every catalog container that does not exist yet.
func (s *Service) Sync(ctx context.Context) error {
	const op = "documents.sync"
	db, err := s.db.Database(ctx)
	if err != nil {
		return apperr.FromStore(op, err)
	}
	for id, spec := range s.catalog {
		c, err := db.EnsureContainer(ctx, spec)
		if err != nil {
			return apperr.FromStore(op, err)
		}
		if _, err := s.register(id, c); err != nil {
			return err
		}
		slog.InfoContext(ctx, "container ready",
			"database", db.ID(),
			"container", id,
			"partition_key_path", spec.PartitionKeyPath,
			"unique_keys", len(spec.UniqueKeys))
	}
	return nil
}

// repo resolves the repository of container. Catalog containers are created
// when missing; any other container must already exist.
func (s *Service) repo(ctx context.Context, op, container string) (*repository.Repository[*Record], error) {
	if !docstore.ValidName(container) {
		return nil, apperr.Domain(op, "container", "is not a valid container name")
	}

	s.mu.RLock()
	r, ok := s.repos[container]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}

	db, err := s.db.Database(ctx)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	var c *docstore.Container
	if spec, ok := s.catalog[container]; ok {
		c, err = db.EnsureContainer(ctx, spec)
	} else {
		c, err = db.ReadContainer(ctx, container)
	}
	if docstore.IsNotFound(err) {
		return nil, apperr.NotFound(op, "Container not found")
	}
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return s.register(container, c)
}

func (s *Service) register(id string, c *docstore.Container) (*repository.Repository[*Record], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[id]; ok {
		return r, nil
	}

	opts := []repository.Option{repository.WithBaseURL(BaseURL(id))}
	if s.cache != nil {
		opts = append(opts, repository.WithCache(s.cache))
	}
	r, err := repository.New[*Record](c, opts...)
	if err != nil {
		return nil, apperr.Internal("documents.register", err)
	}
	s.repos[id] = r
	return r, nil
}

// Create stores a new document.
func (s *Service) Create(ctx context.Context, container string, fields map[string]any) (*Record, error) {
	const op = "documents.create"
	repo, err := s.repo(ctx, op, container)
	if err != nil {
		return nil, err
	}
	rec, err := newRecord(op, fields)
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, rec)
}

// Get reads one document. A missing document is NotFound.
func (s *Service) Get(ctx context.Context, container, id, partitionKey string) (*Record, error) {
	const op = "documents.get"
	repo, err := s.repo(ctx, op, container)
	if err != nil {
		return nil, err
	}
	rec, found, err := repo.FindByID(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound(op, msgDocumentNotFound)
	}
	return rec, nil
}

// List pages through a container. opts.Filter narrows the result when set.
func (s *Service) List(ctx context.Context, container string, opts pagination.Options) (*pagination.Result[*Record], error) {
	repo, err := s.repo(ctx, "documents.list", container)
	if err != nil {
		return nil, err
	}
	if len(opts.Filter) > 0 {
		return repo.FindManyBy(ctx, repository.Filter(opts.Filter), opts)
	}
	return repo.FindAll(ctx, opts)
}

// FindOne returns the oldest document matching filter.
func (s *Service) FindOne(ctx context.Context, container string, filter map[string]any) (*Record, bool, error) {
	repo, err := s.repo(ctx, "documents.findOne", container)
	if err != nil {
		return nil, false, err
	}
	return repo.FindOneBy(ctx, repository.Filter(filter))
}

// Exists reports whether any document matches filter.
func (s *Service) Exists(ctx context.Context, container string, filter map[string]any) (bool, error) {
	repo, err := s.repo(ctx, "documents.exists", container)
	if err != nil {
		return false, err
	}
	return repo.Exists(ctx, repository.Filter(filter))
}

// Count returns the number of documents matching filter.
func (s *Service) Count(ctx context.Context, container string, filter map[string]any) (int64, error) {
	repo, err := s.repo(ctx, "documents.count", container)
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx, repository.Filter(filter))
}

// Update shallow-merges patch into a document.
func (s *Service) Update(ctx context.Context, container, id, partitionKey string, patch map[string]any) (*Record, error) {
	repo, err := s.repo(ctx, "documents.update", container)
	if err != nil {
		return nil, err
	}
	return repo.Update(ctx, id, partitionKey, patch)
}

// Upsert creates the document or replaces the stored one.
func (s *Service) Upsert(ctx context.Context, container string, fields map[string]any) (*Record, error) {
	const op = "documents.upsert"
	repo, err := s.repo(ctx, op, container)
	if err != nil {
		return nil, err
	}
	rec, err := newRecord(op, fields)
	if err != nil {
		return nil, err
	}
	return repo.Upsert(ctx, rec)
}

// Delete removes a document. A missing document is NotFound.
func (s *Service) Delete(ctx context.Context, container, id, partitionKey string) error {
	repo, err := s.repo(ctx, "documents.delete", container)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, id, partitionKey)
}

// BulkCreate stores every document or none of them.
func (s *Service) BulkCreate(ctx context.Context, container string, docs []map[string]any) ([]*Record, error) {
	const op = "documents.bulkCreate"
	repo, err := s.repo(ctx, op, container)
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(docs))
	for _, fields := range docs {
		rec, err := newRecord(op, fields)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return repo.BulkCreate(ctx, recs)
}

func newRecord(op string, fields map[string]any) (*Record, error) {
	if fields == nil {
		return nil, apperr.Validation(op, map[string][]string{"document": {"is required"}})
	}
	rec, err := NewRecord(fields)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, op, "Document is malformed", err)
	}
	return rec, nil
}
