package docstore

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// The helpers below evaluate queries in process for engines without a query
// language. SQL drivers translate the same semantics into their dialect.

// DecodeBody parses an item body into a generic object.
func DecodeBody(body json.RawMessage) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// normalize converts v to the shape encoding/json produces when decoding into any.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func fieldValue(item Item, body map[string]any, field string) any {
	switch field {
	case FieldID:
		return item.ID
	case FieldVersion:
		return float64(item.Version)
	case FieldCreatedAt:
		return item.CreatedAt.UTC().Format(time.RFC3339Nano)
	case FieldUpdatedAt:
		return item.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return body[field]
}

// Matches reports whether item satisfies every condition.
func Matches(item Item, body map[string]any, conds []Condition) bool {
	for _, c := range conds {
		if !matchCondition(fieldValue(item, body, c.Field), c.Values) {
			return false
		}
	}
	return true
}

func matchCondition(got any, values []any) bool {
	for _, want := range values {
		want = normalize(want)
		if reflect.DeepEqual(got, want) {
			return true
		}
		if arr, ok := got.([]any); ok {
			for _, el := range arr {
				if reflect.DeepEqual(el, want) {
					return true
				}
			}
		}
	}
	return false
}

// SortItems orders items by field, breaking ties by id ascending.
func SortItems(items []Item, bodies map[string]map[string]any, field string, desc bool) {
	slices.SortStableFunc(items, func(a, b Item) int {
		c := compareField(a, b, bodies, field)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareField(a, b Item, bodies map[string]map[string]any, field string) int {
	switch field {
	case "", FieldCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case FieldUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case FieldVersion:
		return cmp.Compare(a.Version, b.Version)
	case FieldID:
		return cmp.Compare(a.ID, b.ID)
	}
	return compareJSON(bodies[BodyKey(a)][field], bodies[BodyKey(b)][field])
}

// BodyKey identifies an item inside one container.
func BodyKey(item Item) string {
	return item.PartitionKey + "\x00" + item.ID
}

// compareJSON orders null before booleans, numbers, strings and composites.
func compareJSON(a, b any) int {
	ra, rb := jsonRank(a), jsonRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		return cmp.Compare(av, b.(float64))
	case string:
		return cmp.Compare(av, b.(string))
	case nil:
		return 0
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return cmp.Compare(string(ab), string(bb))
}

func jsonRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

// Window applies offset and limit to an ordered result.
func Window(items []Item, offset, limit int) []Item {
	if offset >= len(items) {
		return []Item{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
