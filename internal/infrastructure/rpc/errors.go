package rpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/requestid"
	"google.golang.org/grpc/status"
)

// Filter names, in the order the chain tries them.
const (
	FilterValidation = "validation"
	FilterRule       = "rule"
	FilterStore      = "store"
	FilterCanonical  = "canonical"
	FilterTimeout    = "timeout"
	FilterStatus     = "status"
)

// NewErrorChain builds the chain that turns handler errors into gRPC statuses.
func NewErrorChain(dev bool) *apperr.Chain[error] {
	render := func(ctx context.Context, e *apperr.Error) error {
		return ToStatus(e.WithRequestID(requestid.FromContext(ctx)), dev).Err()
	}

	return apperr.NewChain(
		func(ctx context.Context, err error) error {
			_, id := requestid.Ensure(ctx)
			slog.ErrorContext(ctx, "unhandled error",
				"request_id", id,
				"error", err)
			return ToStatus(&apperr.Error{
				Kind:      apperr.KindInternal,
				Message:   msgInternal,
				RequestID: id,
				Debug:     err.Error(),
				Err:       err,
			}, dev).Err()
		},
		apperr.Filter[error]{
			Name: FilterValidation,
			Matches: func(err error) bool {
				e, ok := apperr.As(err)
				return ok && e.IsValidation()
			},
			Render: func(ctx context.Context, err error) error {
				e, _ := apperr.As(err)
				slog.InfoContext(ctx, "request validation failed",
					"operation", e.Operation,
					"fields", len(e.Violations))
				return render(ctx, e)
			},
		},
		apperr.Filter[error]{
			Name: FilterRule,
			Matches: func(err error) bool {
				e, ok := apperr.As(err)
				return ok && e.IsRule()
			},
			Render: func(ctx context.Context, err error) error {
				e, _ := apperr.As(err)
				slog.InfoContext(ctx, "rule violation",
					"operation", e.Operation,
					"field", e.Field,
					"reason", e.Reason)
				return render(ctx, e)
			},
		},
		apperr.Filter[error]{
			Name: FilterStore,
			Matches: func(err error) bool {
				e, ok := apperr.As(err)
				return ok && e.StoreCode != 0
			},
			Render: func(ctx context.Context, err error) error {
				e, _ := apperr.As(err)
				level := slog.LevelWarn
				if e.Kind == apperr.KindInternal {
					level = slog.LevelError
				}
				slog.Log(ctx, level, "store error",
					"operation", e.Operation,
					"store_code", e.StoreCode,
					"kind", e.Kind.String(),
					"error", e.Debug)
				return render(ctx, e)
			},
		},
		apperr.Filter[error]{
			Name: FilterCanonical,
			Matches: func(err error) bool {
				_, ok := apperr.As(err)
				return ok
			},
			Render: func(ctx context.Context, err error) error {
				e, _ := apperr.As(err)
				if e.Kind == apperr.KindInternal {
					slog.ErrorContext(ctx, "internal error",
						"operation", e.Operation,
						"error", err)
				}
				return render(ctx, e)
			},
		},
		apperr.Filter[error]{
			Name: FilterTimeout,
			Matches: func(err error) bool {
				return errors.Is(err, context.DeadlineExceeded)
			},
			Render: func(ctx context.Context, err error) error {
				slog.WarnContext(ctx, "deadline exceeded", "error", err)
				return render(ctx, apperr.Wrap(apperr.KindTimeout, "", "Operation timed out", err))
			},
		},
		apperr.Filter[error]{
			Name: FilterStatus,
			Matches: func(err error) bool {
				_, ok := status.FromError(err)
				return ok
			},
			Render: func(_ context.Context, err error) error {
				return err
			},
		},
	)
}
