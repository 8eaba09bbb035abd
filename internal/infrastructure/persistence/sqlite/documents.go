package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rezkam/docrepo/internal/docstore"
)

const selectColumns = `id, partition_key, version, doc, created_at, updated_at`

var systemColumns = map[string]string{
	docstore.FieldID:        "id",
	docstore.FieldVersion:   "version",
	docstore.FieldCreatedAt: "created_at",
	docstore.FieldUpdatedAt: "updated_at",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (docstore.Item, error) {
	var (
		it               docstore.Item
		doc              string
		created, updated int64
	)
	if err := row.Scan(&it.ID, &it.PartitionKey, &it.Version, &doc, &created, &updated); err != nil {
		return docstore.Item{}, err
	}
	it.Body = json.RawMessage(doc)
	it.CreatedAt = time.UnixMicro(created).UTC()
	it.UpdatedAt = time.UnixMicro(updated).UTC()
	return it, nil
}

func body(it docstore.Item) string {
	if len(it.Body) == 0 {
		return "{}"
	}
	return string(it.Body)
}

func (s *Store) Create(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (database_id, container_id, partition_key, id, version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.Database, ref.Container, item.PartitionKey, item.ID, item.Version, body(item),
		item.CreatedAt.UnixMicro(), item.UpdatedAt.UnixMicro())
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return item, nil
}

func (s *Store) Read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM documents
		WHERE database_id = ? AND container_id = ? AND partition_key = ? AND id = ?`,
		ref.Database, ref.Container, partitionKey, id)
	it, err := scanItem(row)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return it, nil
}

func (s *Store) Replace(ctx context.Context, ref docstore.ContainerRef, item docstore.Item, ifVersion int64) (docstore.Item, error) {
	row := s.q.QueryRowContext(ctx, `
		UPDATE documents
		SET doc = ?, version = ?, updated_at = ?
		WHERE database_id = ? AND container_id = ? AND partition_key = ? AND id = ? AND version = ?
		RETURNING `+selectColumns,
		body(item), item.Version, item.UpdatedAt.UnixMicro(),
		ref.Database, ref.Container, item.PartitionKey, item.ID, ifVersion)
	it, err := scanItem(row)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return docstore.Item{}, translate(err)
	}

	var current int64
	err = s.q.QueryRowContext(ctx, `
		SELECT version FROM documents
		WHERE database_id = ? AND container_id = ? AND partition_key = ? AND id = ?`,
		ref.Database, ref.Container, item.PartitionKey, item.ID).Scan(&current)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return docstore.Item{}, docstore.NewError(docstore.StatusPreconditionFailed, docstore.MsgVersionMismatch,
		fmt.Errorf("expected version %d, found %d", ifVersion, current))
}

func (s *Store) Upsert(ctx context.Context, ref docstore.ContainerRef, item docstore.Item) (docstore.Item, error) {
	row := s.q.QueryRowContext(ctx, `
		INSERT INTO documents (database_id, container_id, partition_key, id, version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (database_id, container_id, partition_key, id) DO UPDATE
		SET doc = excluded.doc, version = documents.version + 1, updated_at = excluded.updated_at
		RETURNING `+selectColumns,
		ref.Database, ref.Container, item.PartitionKey, item.ID, item.Version, body(item),
		item.CreatedAt.UnixMicro(), item.UpdatedAt.UnixMicro())
	it, err := scanItem(row)
	if err != nil {
		return docstore.Item{}, translate(err)
	}
	return it, nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) error {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM documents
		WHERE database_id = ? AND container_id = ? AND partition_key = ? AND id = ?`,
		ref.Database, ref.Container, partitionKey, id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return docstore.NewError(docstore.StatusNotFound, docstore.MsgEntityNotFound, nil)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, ref docstore.ContainerRef, q docstore.Query) ([]docstore.Item, error) {
	w := newWhere(ref)
	if err := w.conditions(q.Conditions); err != nil {
		return nil, err
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	stmt := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY %s %s, id ASC",
		selectColumns, w.String(), w.sortExpr(q.SortBy), dir)
	switch {
	case q.Limit > 0:
		stmt += " LIMIT ? OFFSET ?"
		w.args = append(w.args, q.Limit, q.Offset)
	case q.Offset > 0:
		stmt += " LIMIT -1 OFFSET ?"
		w.args = append(w.args, q.Offset)
	}

	rows, err := s.q.QueryContext(ctx, stmt, w.args...)
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
	w := newWhere(ref)
	if err := w.conditions(conds); err != nil {
		return 0, err
	}
	var n int64
	if err := s.q.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE "+w.String(), w.args...).Scan(&n); err != nil {
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

// where accumulates a parameterised predicate. JSON paths are bound as
// parameters; only column names from systemColumns are spliced in.
type where struct {
	clauses []string
	args    []any
}

func newWhere(ref docstore.ContainerRef) *where {
	return &where{
		clauses: []string{"database_id = ?", "container_id = ?"},
		args:    []any{ref.Database, ref.Container},
	}
}

func (w *where) sortExpr(field string) string {
	if field == "" {
		return "created_at"
	}
	if col, ok := systemColumns[field]; ok {
		return col
	}
	w.args = append(w.args, "$."+field)
	return "json_extract(doc, ?)"
}

func (w *where) conditions(conds []docstore.Condition) error {
	for _, c := range conds {
		if len(c.Values) == 0 {
			w.clauses = append(w.clauses, "0")
			continue
		}
		values := make([]boundValue, 0, len(c.Values))
		for _, v := range c.Values {
			bound, err := bindValue(c.Field, v)
			if err != nil {
				return docstore.NewError(docstore.StatusBadRequest, "invalid filter value for "+c.Field, err)
			}
			values = append(values, bound)
		}

		if col, ok := systemColumns[c.Field]; ok {
			in := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			w.clauses = append(w.clauses, fmt.Sprintf("%s IN (%s)", col, in))
			for _, v := range values {
				w.args = append(w.args, v.value)
			}
			continue
		}

		// json_extract yields 1 and 0 for JSON booleans, so every comparison
		// also checks the JSON type to keep true apart from 1.
		path := "$." + c.Field
		scalar := make([]string, 0, len(values))
		element := make([]string, 0, len(values))
		var elementArgs []any
		for _, v := range values {
			if v.types == "" {
				scalar = append(scalar, "json_extract(doc, ?) = ?")
				element = append(element, "je.value = ?")
				w.args = append(w.args, path, v.value)
			} else {
				scalar = append(scalar, "(json_extract(doc, ?) = ? AND json_type(doc, ?) IN ("+v.types+"))")
				element = append(element, "(je.value = ? AND je.type IN ("+v.types+"))")
				w.args = append(w.args, path, v.value, path)
			}
			elementArgs = append(elementArgs, v.value)
		}
		w.clauses = append(w.clauses, fmt.Sprintf(
			"(%s OR (json_type(doc, ?) = 'array' AND EXISTS (SELECT 1 FROM json_each(doc, ?) je WHERE %s)))",
			strings.Join(scalar, " OR "), strings.Join(element, " OR ")))
		w.args = append(w.args, path, path)
		w.args = append(w.args, elementArgs...)
	}
	return nil
}

// boundValue is a filter value as json_extract yields it, plus the JSON types
// (a quoted SQL list, empty when unconstrained) it may match.
type boundValue struct {
	value any
	types string
}

const (
	typesNumber = "'integer', 'real'"
	typesText   = "'text'"
)

// bindValue converts a filter value into what json_extract yields for it.
func bindValue(field string, v any) (boundValue, error) {
	switch field {
	case docstore.FieldCreatedAt, docstore.FieldUpdatedAt:
		switch t := v.(type) {
		case time.Time:
			return boundValue{value: t.UnixMicro()}, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return boundValue{}, err
			}
			return boundValue{value: parsed.UnixMicro()}, nil
		}
	}

	switch val := v.(type) {
	case nil:
		return boundValue{}, errors.New("null is not a filterable value")
	case bool:
		if val {
			return boundValue{value: 1, types: "'true'"}, nil
		}
		return boundValue{value: 0, types: "'false'"}, nil
	case string:
		return boundValue{value: val, types: typesText}, nil
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return boundValue{value: val, types: typesNumber}, nil
	case json.Number:
		f, err := val.Float64()
		return boundValue{value: f, types: typesNumber}, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return boundValue{}, err
	}
	return boundValue{value: string(b)}, nil
}

func (w *where) String() string {
	return strings.Join(w.clauses, " AND ")
}
