package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrFetcherPanic is wrapped into a FetchError when a Fetcher panics.
	ErrFetcherPanic = errors.New("fetcher panicked")
)

// FetchError records a failed page fetch. It is what LastError holds.
type FetchError struct {
	Op   string
	Page int
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("pagination %s page %d: %v", e.Op, e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
