// Package gcs is a Cloud Storage engine for the document store. Each document
// is one JSON object; generation preconditions provide optimistic concurrency
// and queries are evaluated in process over a container prefix.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rezkam/docrepo/internal/docstore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Compile-time verification that Store implements the driver interface.
var _ docstore.Driver = (*Store)(nil)

// maxConcurrency bounds parallel object reads per query.
const maxConcurrency = 20

// Config selects the bucket and credentials.
type Config struct {
	Bucket string
	// CredentialsFile is a service account key. Empty uses Application Default Credentials.
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for a local emulator. Authentication is skipped.
	Endpoint string
}

// Store is a GCS-based implementation of docstore.Driver.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// Open creates a GCS store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// Ping checks the bucket is reachable with the configured credentials.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	return translate(err)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func databaseObject(db string) string {
	return db + "/_database.json"
}

func containerObject(db, container string) string {
	return db + "/" + container + "/_container.json"
}

func documentPrefix(ref docstore.ContainerRef) string {
	return ref.Database + "/" + ref.Container + "/docs/"
}

func documentObject(ref docstore.ContainerRef, id, partitionKey string) string {
	return documentPrefix(ref) + url.PathEscape(partitionKey) + "/" + url.PathEscape(id) + ".json"
}

// envelope is the stored form of a document.
type envelope struct {
	ID           string          `json:"id"`
	PartitionKey string          `json:"partitionKey"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Body         json.RawMessage `json:"body"`
}

func toEnvelope(it docstore.Item) envelope {
	body := it.Body
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	return envelope{
		ID:           it.ID,
		PartitionKey: it.PartitionKey,
		Version:      it.Version,
		CreatedAt:    it.CreatedAt.UTC(),
		UpdatedAt:    it.UpdatedAt.UTC(),
		Body:         body,
	}
}

func (e envelope) item() docstore.Item {
	return docstore.Item{
		ID:           e.ID,
		PartitionKey: e.PartitionKey,
		Version:      e.Version,
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
		Body:         e.Body,
	}
}

// writeJSON stores v under the given preconditions.
func (s *Store) writeJSON(ctx context.Context, obj *storage.ObjectHandle, cond storage.Conditions, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}
	w := obj.If(cond).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// readJSON decodes an object and returns its generation.
func (s *Store) readJSON(ctx context.Context, obj *storage.ObjectHandle, v any) (int64, error) {
	r, err := obj.NewReader(ctx)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", obj.ObjectName(), err)
	}
	return r.Attrs.Generation, nil
}

func (s *Store) EnsureDatabase(ctx context.Context, id string) error {
	err := s.writeJSON(ctx, s.bucket.Object(databaseObject(id)), storage.Conditions{DoesNotExist: true},
		map[string]any{"id": id, "createdAt": time.Now().UTC()})
	if isPreconditionFailed(err) {
		return nil
	}
	return translate(err)
}

func (s *Store) EnsureContainer(ctx context.Context, database string, spec docstore.ContainerSpec) error {
	if err := s.EnsureDatabase(ctx, database); err != nil {
		return err
	}
	err := s.writeJSON(ctx, s.bucket.Object(containerObject(database, spec.ID)), storage.Conditions{DoesNotExist: true}, spec)
	if isPreconditionFailed(err) {
		return nil
	}
	return translate(err)
}

func (s *Store) ReadContainer(ctx context.Context, database, id string) (docstore.ContainerSpec, error) {
	var spec docstore.ContainerSpec
	if _, err := s.readJSON(ctx, s.bucket.Object(containerObject(database, id)), &spec); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return spec, docstore.NewError(docstore.StatusNotFound, "Resource Not Found. Container does not exist.", err)
		}
		return spec, translate(err)
	}
	return spec, nil
}

// containerSpec loads the definition needed for unique key checks.
func (s *Store) containerSpec(ctx context.Context, ref docstore.ContainerRef) (docstore.ContainerSpec, error) {
	return s.ReadContainer(ctx, ref.Database, ref.Container)
}

// loadAll reads every document of a container in parallel.
func (s *Store) loadAll(ctx context.Context, ref docstore.ContainerRef) ([]docstore.Item, map[string]map[string]any, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: documentPrefix(ref)})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, translate(fmt.Errorf("failed to list objects: %w", err))
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			names = append(names, attrs.Name)
		}
	}

	items := make([]docstore.Item, len(names))
	found := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, name := range names {
		g.Go(func() error {
			var env envelope
			if _, err := s.readJSON(gctx, s.bucket.Object(name), &env); err != nil {
				// Deleted between listing and reading.
				if errors.Is(err, storage.ErrObjectNotExist) {
					return nil
				}
				return err
			}
			items[i] = env.item()
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, translate(err)
	}

	out := make([]docstore.Item, 0, len(items))
	bodies := make(map[string]map[string]any, len(items))
	for i, item := range items {
		if !found[i] {
			continue
		}
		body, err := docstore.DecodeBody(item.Body)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, item)
		bodies[docstore.BodyKey(item)] = body
	}
	return out, bodies, nil
}

// checkUnique scans the container for another document sharing a unique key value.
func (s *Store) checkUnique(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) error {
	spec, err := s.containerSpec(ctx, ref)
	if err != nil {
		return err
	}
	if len(spec.UniqueKeys) == 0 {
		return nil
	}
	body, err := docstore.DecodeBody(item.Body)
	if err != nil {
		return docstore.NewError(docstore.StatusBadRequest, "Document body is not valid JSON.", err)
	}

	existing, bodies, err := s.loadAll(ctx, ref)
	if err != nil {
		return err
	}
	for _, key := range spec.UniqueKeys {
		conds, ok := uniqueConditions(key, body)
		if !ok {
			continue
		}
		for _, other := range existing {
			if other.ID == item.ID && other.PartitionKey == item.PartitionKey {
				continue
			}
			if docstore.Matches(other, bodies[docstore.BodyKey(other)], conds) {
				return docstore.NewError(docstore.StatusConflict, docstore.MsgUniqueKey, nil)
			}
		}
	}
	return nil
}

// uniqueConditions turns a unique key into equality conditions. Documents
// missing any of the fields are not constrained.
func uniqueConditions(key docstore.UniqueKey, body map[string]any) ([]docstore.Condition, bool) {
	fields := key.UniqueFields()
	conds := make([]docstore.Condition, 0, len(fields))
	for _, f := range fields {
		v, ok := body[f]
		if !ok || v == nil {
			return nil, false
		}
		conds = append(conds, docstore.Condition{Field: f, Values: []any{v}})
	}
	return conds, true
}
