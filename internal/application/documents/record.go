package documents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/repository"
)

// fieldPartitionKey mirrors the json name of repository.Base.PartitionKey.
const fieldPartitionKey = "partitionKey"

// Record is a schemaless document: the system fields plus whatever the client sent.
// It serializes as one flat JSON object.
type Record struct {
	repository.Base
	Fields map[string]any
}

// NewRecord builds a record from a client document. System fields in fields are
// lifted into Base; the rest stays in Fields.
func NewRecord(fields map[string]any) (*Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	r := &Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.ID != "" {
		out[docstore.FieldID] = r.ID
	}
	if r.PartitionKey != "" {
		out[fieldPartitionKey] = r.PartitionKey
	}
	if r.Version != 0 {
		out[docstore.FieldVersion] = r.Version
	}
	if !r.CreatedAt.IsZero() {
		out[docstore.FieldCreatedAt] = r.CreatedAt.UTC()
	}
	if !r.UpdatedAt.IsZero() {
		out[docstore.FieldUpdatedAt] = r.UpdatedAt.UTC()
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}

	var base repository.Base
	if v, ok := fields[docstore.FieldID]; ok {
		id, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", docstore.FieldID)
		}
		base.ID = id
	}
	if v, ok := fields[fieldPartitionKey].(string); ok {
		base.PartitionKey = v
	}
	if v, ok := fields[docstore.FieldVersion].(float64); ok {
		base.Version = int64(v)
	}
	var err error
	if base.CreatedAt, err = timeField(fields, docstore.FieldCreatedAt); err != nil {
		return err
	}
	if base.UpdatedAt, err = timeField(fields, docstore.FieldUpdatedAt); err != nil {
		return err
	}

	delete(fields, docstore.FieldID)
	delete(fields, fieldPartitionKey)
	delete(fields, docstore.FieldVersion)
	delete(fields, docstore.FieldCreatedAt)
	delete(fields, docstore.FieldUpdatedAt)

	r.Base = base
	r.Fields = fields
	return nil
}

func timeField(fields map[string]any, name string) (time.Time, error) {
	s, ok := fields[name].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t.UTC(), nil
}
