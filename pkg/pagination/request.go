package pagination

import "context"

// PageRequest identifies one page of a remote list.
type PageRequest struct {
	// Page is 1-based.
	Page int
	// Size is the fixed page size the collection was configured with.
	Size int
}

// Offset returns the row offset of the first item of the page.
func (r PageRequest) Offset() int {
	if r.Page < 1 {
		return 0
	}
	return (r.Page - 1) * r.Size
}

// Limit returns the maximum number of rows the page may hold.
func (r PageRequest) Limit() int {
	return r.Size
}

// Fetcher loads a single page. An empty slice signals exhaustion; an error
// is treated as transient and never as exhaustion.
type Fetcher[T any] func(ctx context.Context, req PageRequest) ([]T, error)

// OffsetFetcher adapts an offset/limit style call into a Fetcher.
func OffsetFetcher[T any](fn func(ctx context.Context, offset, limit int) ([]T, error)) Fetcher[T] {
	return func(ctx context.Context, req PageRequest) ([]T, error) {
		return fn(ctx, req.Offset(), req.Limit())
	}
}
