// Package pagination keeps an incrementally loaded, deduplicated view of a
// paged remote list.
//
// A Collection fetches pages through a caller-supplied Fetcher, merges them
// into an in-memory slice without duplicating identities, and tracks whether
// the remote result set is exhausted. Three operations mutate it:
//
//   - LoadFirstPage fetches the first page, e.g. on mount, when an auth
//     token becomes available, or to retry a failed first load.
//   - LoadNextPage appends the page at the cursor (dedup-merge).
//   - Refresh re-fetches the first page and replaces everything.
//
// Only one of them runs at a time. A call made while another is in flight is
// rejected, not queued, except that Refresh supersedes an in-flight
// LoadNextPage: every fetch is stamped with a generation and results from an
// older generation are dropped on arrival.
//
// Example usage:
//
//	col := pagination.New(fetchProducts, func(p Product) int64 { return p.ID },
//		pagination.Config{Name: "featured", PageSize: 20})
//	col.LoadFirstPage(ctx)
//	for col.HasMore() {
//		col.LoadNextPage(ctx)
//	}
//	grid := col.Sample(6)
//
// Fetch errors never escape an operation. They are stored as *FetchError and
// exposed through Snapshot and LastError; the caller decides whether to retry.
package pagination
