package repository

import (
	"errors"
	"reflect"
	"slices"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/docstore"
)

// Filter is a set of equality predicates keyed by field name. A slice value
// means "contains any": the field equals one of the values, or the field is an
// array sharing one of them.
type Filter map[string]any

// conditions converts f into store conditions in a stable field order.
func (f Filter) conditions(op string) ([]docstore.Condition, error) {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	conds := make([]docstore.Condition, 0, len(fields))
	for _, field := range fields {
		if !docstore.ValidField(field) {
			return nil, apperr.Domain(op, field, "is not a valid field name")
		}
		values, err := filterValues(f[field])
		if err != nil {
			return nil, apperr.Domain(op, field, err.Error())
		}
		conds = append(conds, docstore.Condition{Field: field, Values: values})
	}
	return conds, nil
}

var (
	errNullValue = errors.New("null is not a filterable value")
	errNotScalar = errors.New("only strings, numbers and booleans can be matched")
)

func filterValues(v any) ([]any, error) {
	if v == nil {
		return nil, errNullValue
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := range rv.Len() {
			elem := rv.Index(i).Interface()
			if err := scalar(elem); err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	}
	if err := scalar(v); err != nil {
		return nil, err
	}
	return []any{v}, nil
}

// scalar accepts strings, numbers and booleans.
func scalar(v any) error {
	if v == nil {
		return errNullValue
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	}
	return errNotScalar
}
