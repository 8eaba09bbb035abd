// Package requestid carries the request correlation id across the gateway,
// the RPC service and the errors they render.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

const (
	// Header is the HTTP header the id travels in.
	Header = "X-Request-Id"
	// MetadataKey is the gRPC metadata key the id travels in.
	MetadataKey = "x-request-id"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// New generates a fresh id.
func New() string {
	return uuid.NewString()
}

// Ensure returns the id in ctx, generating and storing one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return NewContext(ctx, id), id
}
