package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rezkam/docrepo/internal/docstore"
)

// Base carries the system fields every stored entity has. Embed it in entity
// structs; the embedding struct then satisfies Entity through Meta.
type Base struct {
	ID           string    `json:"id"`
	PartitionKey string    `json:"partitionKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      int64     `json:"version"`
}

// Meta returns b itself.
func (b *Base) Meta() *Base { return b }

// Entity is any persisted record. Implementations must be pointers to structs
// that embed Base and round-trip through encoding/json.
type Entity interface {
	Meta() *Base
}

// newFunc returns a constructor for the struct T points to.
func newFunc[T Entity]() (func() T, error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("repository: entity type %s must be a pointer to a struct", typ)
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

// systemFields never live in a stored body; the store columns are authoritative.
var systemFields = []string{
	docstore.FieldID,
	docstore.FieldVersion,
	docstore.FieldCreatedAt,
	docstore.FieldUpdatedAt,
}

// encode splits an entity into its id and its body. A missing id is generated.
func encode[T Entity](entity T) (string, map[string]any, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return "", nil, err
	}
	body, err := docstore.DecodeBody(data)
	if err != nil {
		return "", nil, err
	}

	id := entity.Meta().ID
	if id == "" {
		id = uuid.NewString()
	}
	for _, f := range systemFields {
		delete(body, f)
	}
	return id, body, nil
}

// decode rebuilds an entity from a stored item.
func decode[T Entity](item docstore.Item, newEntity func() T) (T, error) {
	body, err := docstore.DecodeBody(item.Body)
	if err != nil {
		var zero T
		return zero, err
	}
	body[docstore.FieldID] = item.ID
	body[docstore.FieldVersion] = item.Version
	body[docstore.FieldCreatedAt] = item.CreatedAt.UTC()
	body[docstore.FieldUpdatedAt] = item.UpdatedAt.UTC()

	data, err := json.Marshal(body)
	if err != nil {
		var zero T
		return zero, err
	}
	out := newEntity()
	if err := json.Unmarshal(data, out); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", item.ID, err)
	}
	out.Meta().PartitionKey = item.PartitionKey
	return out, nil
}
