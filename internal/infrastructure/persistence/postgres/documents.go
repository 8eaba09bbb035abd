package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rezkam/docrepo/internal/docstore"
)

const selectColumns = `id, partition_key, version, doc::text, created_at, updated_at`

var systemColumns = map[string]string{
	docstore.FieldID:        "id",
	docstore.FieldVersion:   "version",
	docstore.FieldCreatedAt: "created_at",
	docstore.FieldUpdatedAt: "updated_at",
}

func scanItem(row pgx.Row) (docstore.Item, error) {
	var (
		it  docstore.Item
		doc string
	)
	if err := row.Scan(&it.ID, &it.PartitionKey, &it.Version, &doc, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return docstore.Item{}, err
	}
	it.Body = json.RawMessage(doc)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return it, nil
}

func body(it docstore.Item) string {
	if len(it.Body) == 0 {
		return "{}"
	}
	return string(it.Body)
}

func (s *Store) Create(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO documents (database_id, container_id, partition_key, id, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::jsonb, $7, $8)`,
		ref.Database, ref.Container, item.PartitionKey, item.ID, item.Version, body(item), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM documents
		WHERE database_id = $1 AND container_id = $2 AND partition_key = $3 AND id = $4`,
		ref.Database, ref.Container, partitionKey, id)
	it, err := scanItem(row)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return it, nil
}

// Replace is a compare-and-swap on the version column. When no row changes it
// tells a vanished item (404) from a concurrent writer (412).
func (s *Store) Replace(ctx context.Context, ref docstore.ContainerRef, item docstore.Item, ifVersion int64) (docstore.Item, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE documents
		SET doc = $1::text::jsonb, version = $2, updated_at = $3
		WHERE database_id = $4 AND container_id = $5 AND partition_key = $6 AND id = $7 AND version = $8
		RETURNING `+selectColumns,
		body(item), item.Version, item.UpdatedAt,
		ref.Database, ref.Container, item.PartitionKey, item.ID, ifVersion)
	it, err := scanItem(row)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return docstore.Item{}, translate(err)
	}

	var current int64
	err = s.q.QueryRow(ctx, `
		SELECT version FROM documents
		WHERE database_id = $1 AND container_id = $2 AND partition_key = $3 AND id = $4`,
		ref.Database, ref.Container, item.PartitionKey, item.ID).Scan(&current)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return docstore.Item{}, docstore.NewError(docstore.StatusPreconditionFailed, docstore.MsgVersionMismatch,
		fmt.Errorf("expected version %d, found %d", ifVersion, current))
}

func (s *Store) Upsert(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO documents (database_id, container_id, partition_key, id, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::jsonb, $7, $8)
		ON CONFLICT (database_id, container_id, partition_key, id) DO UPDATE
		SET doc = EXCLUDED.doc, version = documents.version + 1, updated_at = EXCLUDED.updated_at
		RETURNING `+selectColumns,
		ref.Database, ref.Container, item.PartitionKey, item.ID, item.Version, body(item), item.CreatedAt, item.UpdatedAt)
	it, err := scanItem(row)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM documents
		WHERE database_id = $1 AND container_id = $2 AND partition_key = $3 AND id = $4`,
		ref.Database, ref.Container, partitionKey, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.NewError(docstore.StatusNotFound, docstore.MsgEntityNotFound, nil)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, ref docstore.ContainerRef, q docstore.Query) ([]docstore.Item, error) {
	b := newWhere(ref)
	if err := b.conditions(q.Conditions); err != nil {
		return nil, err
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	sql := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY %s %s, id ASC",
		selectColumns, b.String(), b.fieldExpr(q.SortBy), dir)
	if q.Offset > 0 {
		sql += " OFFSET " + b.arg(q.Offset)
	}
	if q.Limit > 0 {
		sql += " LIMIT " + b.arg(q.Limit)
	}

	rows, err := s.q.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	items := []docstore.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, translate(err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return items, nil
}

func (s *Store) Count(ctx context.Context, ref docstore.ContainerRef, conds []docstore.Condition) (int64, error) {
	b := newWhere(ref)
	if err := b.conditions(conds); err != nil {
		return 0, err
	}
	var n int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM documents WHERE "+b.String(), b.args...).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (s *Store) CreateBatch(ctx context.Context, ref docstore.ContainerRef, items []docstore.Item) ([]docstore.Item, error) {
	out := make([]docstore.Item, 0, len(items))
	err := s.executeInTransaction(ctx, "createBatch", func(tx *Store) error {
		for i, item := range items {
			created, err := tx.Create(ctx, ref, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// where accumulates a parameterised predicate. Field names are bound as
// parameters too; only column names from systemColumns are spliced in.
type where struct {
	clauses []string
	args    []any
}

func newWhere(ref docstore.ContainerRef) *where {
	w := &where{}
	w.clauses = append(w.clauses,
		"database_id = "+w.arg(ref.Database),
		"container_id = "+w.arg(ref.Container))
	return w
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) fieldExpr(field string) string {
	if field == "" {
		return "created_at"
	}
	if col, ok := systemColumns[field]; ok {
		return col
	}
	return "(doc -> " + w.arg(field) + "::text)"
}

func (w *where) jsonExpr(field string) string {
	if col, ok := systemColumns[field]; ok {
		return "to_jsonb(" + col + ")"
	}
	return "(doc -> " + w.arg(field) + "::text)"
}

// conditions matches a field equal to any wanted value, or an array field containing one.
func (w *where) conditions(conds []docstore.Condition) error {
	for _, c := range conds {
		wanted, err := json.Marshal(c.Values)
		if err != nil {
			return docstore.NewError(docstore.StatusBadRequest, "invalid filter value for "+c.Field, err)
		}
		e := w.jsonExpr(c.Field)
		w.clauses = append(w.clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements(%s::text::jsonb) AS w(v) WHERE %s = w.v OR (jsonb_typeof(%s) = 'array' AND %s @> jsonb_build_array(w.v)))",
			w.arg(string(wanted)), e, e, e))
	}
	return nil
}

func (w *where) String() string {
	return strings.Join(w.clauses, " AND ")
}
