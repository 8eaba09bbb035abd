package apperr

import "context"

// Filter renders the errors it matches into a boundary-specific value R.
type Filter[R any] struct {
	Name    string
	Matches func(err error) bool
	Render  func(ctx context.Context, err error) R
}

// Chain is an ordered list of filters with a catch-all fallback.
// More specific filters must come first: the first match renders and the
// remaining filters never see the error.
type Chain[R any] struct {
	filters  []Filter[R]
	fallback func(ctx context.Context, err error) R
}

// NewChain builds a chain. fallback renders anything no filter matched.
func NewChain[R any](fallback func(ctx context.Context, err error) R, filters ...Filter[R]) *Chain[R] {
	return &Chain[R]{filters: filters, fallback: fallback}
}

// Handle renders err with exactly one filter and reports which one did.
func (c *Chain[R]) Handle(ctx context.Context, err error) (R, string) {
	for _, f := range c.filters {
		if f.Matches(err) {
			return f.Render(ctx, err), f.Name
		}
	}
	return c.fallback(ctx, err), "fallback"
}
