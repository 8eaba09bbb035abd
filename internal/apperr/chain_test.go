package apperr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChain_FirstMatchRendersOnce(t *testing.T) {
	var calls []string
	record := func(name string) func(context.Context, error) string {
		return func(context.Context, error) string {
			calls = append(calls, name)
			return name
		}
	}

	chain := NewChain(record("fallback"),
		Filter[string]{
			Name:    "validation",
			Matches: func(err error) bool {
				e, ok := As(err)
				return ok && e.IsValidation()
			},
			Render: record("validation"),
		},
		Filter[string]{
			Name:    "canonical",
			Matches: func(err error) bool {
				_, ok := As(err)
				return ok
			},
			Render: record("canonical"),
		},
	)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation wins over canonical", Validation("create", map[string][]string{"name": {"required"}}), "validation"},
		{"canonical error", NotFound("get", "missing"), "canonical"},
		{"unknown error", errors.New("boom"), "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			out, by := chain.Handle(context.Background(), tt.err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.want, by)
			assert.Len(t, calls, 1, "exactly one filter must render")
		})
	}
}
