package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rezkam/docrepo/internal/docstore"
)

func (s *Store) EnsureDatabase(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO databases (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		id, time.Now().UTC().UnixMicro())
	return translate(err)
}

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
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO containers (database_id, id, partition_key_path, unique_keys, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (database_id, id) DO NOTHING`,
			database, spec.ID, spec.PartitionKeyPath, string(uk), time.Now().UTC().UnixMicro())
		if err != nil {
			return err
		}
		for _, key := range spec.UniqueKeys {
			if _, err := tx.q.ExecContext(ctx, uniqueIndexDDL(database, spec.ID, key)); err != nil {
				return err
			}
		}
		return nil
	})
	return translate(err)
}

// uniqueIndexDDL builds a partial expression index. Every name spliced in has
// passed docstore.ValidName or docstore.ValidField.
func uniqueIndexDDL(database, container string, key docstore.UniqueKey) string {
	fields := key.UniqueFields()

	h := fnv.New64a()
	_, _ = h.Write([]byte(database + "/" + container + "/" + strings.Join(fields, ",")))

	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = fmt.Sprintf("json_extract(doc, '$.%s')", f)
	}

	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS documents_ux_%x ON documents (%s) WHERE database_id = '%s' AND container_id = '%s'",
		h.Sum64(), strings.Join(exprs, ", "), database, container)
}

func (s *Store) ReadContainer(ctx context.Context, database, id string) (docstore.ContainerSpec, error) {
	spec := docstore.ContainerSpec{ID: id}
	var uk string
	err := s.q.QueryRowContext(ctx,
		`SELECT partition_key_path, unique_keys FROM containers WHERE database_id = ? AND id = ?`,
		database, id).Scan(&spec.PartitionKeyPath, &uk)
	if errors.Is(err, sql.ErrNoRows) {
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
