// Package docstore is the client for a partitioned document store organised as
// databases holding containers of JSON documents. Drivers implement the storage
// engine; Client adds request timeouts, retry of throttled requests and metrics.
package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultPartitionKeyPath is used by containers that do not declare one.
const DefaultPartitionKeyPath = "/partitionKey"

// System fields are stored as columns next to the document body and are
// authoritative over anything the body contains.
const (
	FieldID        = "id"
	FieldVersion   = "version"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

var (
	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)
)

// IsSystemField reports whether name is one of the column-backed system fields.
func IsSystemField(name string) bool {
	switch name {
	case FieldID, FieldVersion, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

// ValidField reports whether name can be used in filters, sorting and unique keys.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// ValidName reports whether name is an acceptable database or container id.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Item is one stored document. Body holds the user fields as a JSON object;
// the system fields live in the struct.
type Item struct {
	ID           string
	PartitionKey string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Body         json.RawMessage
}

// ContainerRef addresses a container inside a database.
type ContainerRef struct {
	Database  string
	Container string
}

func (r ContainerRef) String() string {
	return r.Database + "/" + r.Container
}

// UniqueKey declares a set of fields whose combined value must be unique within the container.
type UniqueKey struct {
	Paths []string `json:"paths" yaml:"paths"`
}

// ContainerSpec describes a container to provision.
type ContainerSpec struct {
	ID               string      `json:"id" yaml:"id"`
	PartitionKeyPath string      `json:"partitionKeyPath" yaml:"partitionKeyPath"`
	UniqueKeys       []UniqueKey `json:"uniqueKeys,omitempty" yaml:"uniqueKeys"`
}

// WithDefaults fills the partition key path when unset.
func (s ContainerSpec) WithDefaults() ContainerSpec {
	if s.PartitionKeyPath == "" {
		s.PartitionKeyPath = DefaultPartitionKeyPath
	}
	return s
}

// PartitionKeyField is the top-level field named by the partition key path.
func (s ContainerSpec) PartitionKeyField() string {
	return strings.TrimPrefix(s.WithDefaults().PartitionKeyPath, "/")
}

// Validate checks ids and paths before any of them reach DDL or object names.
func (s ContainerSpec) Validate() error {
	if !ValidName(s.ID) {
		return fmt.Errorf("%w: invalid container id %q", ErrInvalidSpec, s.ID)
	}
	if f := s.PartitionKeyField(); !ValidField(f) || IsSystemField(f) && f != FieldID {
		return fmt.Errorf("%w: invalid partition key path %q", ErrInvalidSpec, s.PartitionKeyPath)
	}
	for _, uk := range s.UniqueKeys {
		if len(uk.Paths) == 0 {
			return fmt.Errorf("%w: unique key without paths", ErrInvalidSpec)
		}
		for _, p := range uk.Paths {
			if !ValidField(strings.TrimPrefix(p, "/")) {
				return fmt.Errorf("%w: invalid unique key path %q", ErrInvalidSpec, p)
			}
		}
	}
	return nil
}

// UniqueFields returns the field names of a unique key.
func (u UniqueKey) UniqueFields() []string {
	out := make([]string, len(u.Paths))
	for i, p := range u.Paths {
		out[i] = strings.TrimPrefix(p, "/")
	}
	return out
}

// Condition is one equality predicate. The field matches when it equals any
// of Values, or when it is an array containing any of them.
type Condition struct {
	Field  string
	Values []any
}

// Query selects, orders and windows documents of one container.
type Query struct {
	Conditions []Condition
	SortBy     string
	Descending bool
	Offset     int
	// Limit of 0 means no limit.
	Limit int
}

// Validate rejects negative windows and field names that are not plain identifiers.
func (q Query) Validate() error {
	if q.Offset < 0 || q.Limit < 0 {
		return NewError(StatusBadRequest, fmt.Sprintf("invalid window offset=%d limit=%d", q.Offset, q.Limit), nil)
	}
	if q.SortBy != "" && !ValidField(q.SortBy) {
		return NewError(StatusBadRequest, fmt.Sprintf("invalid sort field %q", q.SortBy), nil)
	}
	return ValidateConditions(q.Conditions)
}

// ValidateConditions rejects conditions on fields that are not plain identifiers.
func ValidateConditions(conds []Condition) error {
	for _, c := range conds {
		if !ValidField(c.Field) {
			return NewError(StatusBadRequest, fmt.Sprintf("invalid filter field %q", c.Field), nil)
		}
	}
	return nil
}
