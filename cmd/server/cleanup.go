package main

import (
	"context"
	"io"
	"log/slog"
)

// shutdowner is a server that drains in-flight work before stopping.
type shutdowner interface {
	Shutdown(context.Context) error
}

// newCleanup builds the hook run once the gRPC listener has stopped: side
// servers shut down first, then the closers run in the order given.
func newCleanup(ctx context.Context, servers []shutdowner, closers ...io.Closer) func() {
	return func() {
		for _, s := range servers {
			if s == nil {
				continue
			}
			if err := s.Shutdown(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to shut down server", "error", err)
			}
		}

		for _, c := range closers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				slog.ErrorContext(ctx, "failed to close resource", "error", err)
			}
		}
	}
}
