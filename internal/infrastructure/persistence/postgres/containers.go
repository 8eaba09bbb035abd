package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rezkam/docrepo/internal/docstore"
)

// EnsureDatabase records the database if it does not exist yet.
func (s *Store) EnsureDatabase(ctx context.Context, id string) error {
	_, err := s.q.Exec(ctx, `INSERT INTO databases (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	return translate(err)
}

// EnsureContainer records the container and creates one partial unique index
// per unique key. An existing container keeps its original definition.
func (s *Store) EnsureContainer(ctx context.Context, database string, spec docstore.ContainerSpec) error {
	uniqueKeys := spec.UniqueKeys
	if uniqueKeys == nil {
		uniqueKeys = []docstore.UniqueKey{}
	}
	uk, err := json.Marshal(uniqueKeys)
	if err != nil {
		return fmt.Errorf("encode unique keys: %w", err)
	}

	err = s.executeInTransaction(ctx, "ensureContainer", func(tx *Store) error {
		if err := tx.EnsureDatabase(ctx, database); err != nil {
			return err
		}
		_, err := tx.q.Exec(ctx, `
			INSERT INTO containers (database_id, id, partition_key_path, unique_keys)
			VALUES ($1, $2, $3, $4::text::jsonb)
			ON CONFLICT (database_id, id) DO NOTHING`,
			database, spec.ID, spec.PartitionKeyPath, string(uk))
		if err != nil {
			return err
		}
		for _, key := range spec.UniqueKeys {
			if _, err := tx.q.Exec(ctx, uniqueIndexDDL(database, spec.ID, key)); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

// uniqueIndexDDL builds the index statement. Identifiers cannot be bound as
// parameters, so every name here has passed docstore.ValidName or ValidField.
func uniqueIndexDDL(database, container string, key docstore.UniqueKey) string {
	fields := key.UniqueFields()

	h := fnv.New64a()
	_, _ = h.Write([]byte(database + "/" + container + "/" + strings.Join(fields, ",")))

	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = fmt.Sprintf("(doc ->> '%s')", f)
	}

	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS documents_ux_%x ON documents (%s) WHERE database_id = '%s' AND container_id = '%s'",
		h.Sum64(), strings.Join(exprs, ", "), database, container)
}

// ReadContainer loads a container definition.
func (s *Store) ReadContainer(ctx context.Context, database, id string) (docstore.ContainerSpec, error) {
	spec := docstore.ContainerSpec{ID: id}
	var uk string
	err := s.q.QueryRow(ctx,
		`SELECT partition_key_path, unique_keys::text FROM containers WHERE database_id = $1 AND id = $2`,
		database, id).Scan(&spec.PartitionKeyPath, &uk)
	if errors.Is(err, pgx.ErrNoRows) {
		return spec, docstore.NewError(docstore.StatusNotFound, "Resource Not Found. Container does not exist.", err)
	}
	if err != nil {
		return spec, translate(err)
	}
	if err := json.Unmarshal([]byte(uk), &spec.UniqueKeys); err != nil {
		return spec, fmt.Errorf("decode unique keys: %w", err)
	}
	return spec, nil
}
