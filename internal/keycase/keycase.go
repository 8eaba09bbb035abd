// Package keycase rewrites object keys between the snake_case wire convention
// and the camelCase convention used by handlers and HTTP clients.
package keycase

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Transform returns a copy of v with every object key renamed by rename.
// It recurses into nested objects and arrays; scalar leaves are returned as is.
func Transform(v any, rename func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[rename(k)] = Transform(inner, rename)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Transform(inner, rename)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Transform(inner, rename)
		}
		return out
	default:
		return v
	}
}

// Map is Transform specialised to objects.
func Map(m map[string]any, rename func(string) string) map[string]any {
	if m == nil {
		return nil
	}
	return Transform(m, rename).(map[string]any)
}

// SnakeToCamel converts partition_key to partitionKey. Leading underscores are kept.
func SnakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}

	trimmed := strings.TrimLeft(s, "_")
	prefix := s[:len(s)-len(trimmed)]

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(prefix)

	upperNext := false
	for _, r := range trimmed {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			r = unicode.ToUpper(r)
			upperNext = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelToSnake converts partitionKey to partition_key.
// Every upper-case letter after the first rune starts a new word.
func CamelToSnake(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 4)

	first, size := utf8.DecodeRuneInString(s)
	b.WriteRune(unicode.ToLower(first))
	for _, r := range s[size:] {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
