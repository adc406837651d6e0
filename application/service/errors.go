package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrCancelled indicates work stopped because its context was cancelled.
// It is distinct from failure: callers must not report it as an error state.
var ErrCancelled = errors.New("folio: cancelled")

// ErrClosed indicates the session has been closed.
var ErrClosed = errors.New("folio: session is closed")

// ErrRangeConflict indicates a range could not be streamed because other
// ranges with the same start page kept streaming ahead of it.
var ErrRangeConflict = errors.New("folio: range conflicts with a chunk in flight")

// cancelled wraps a context error so that both ErrCancelled and the
// original context error match with errors.Is.
func cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// FetchError is returned when the document source fails to deliver a range.
type FetchError struct {
	documentID string
	start, end int
	err        error
}

// NewFetchError creates a FetchError.
func NewFetchError(documentID string, start, end int, err error) *FetchError {
	return &FetchError{documentID: documentID, start: start, end: end, err: err}
}

// Error implements error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s pages [%d,%d]: %v", e.documentID, e.start, e.end, e.err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.err }

// RenderError is returned when one or more pages failed after retries.
type RenderError struct {
	failed map[int]error
}

// NewRenderError creates a RenderError from per-page failures.
func NewRenderError(failed map[int]error) *RenderError {
	return &RenderError{failed: maps.Clone(failed)}
}

// Pages returns the failed page numbers in ascending order.
func (e *RenderError) Pages() []int {
	return slices.Sorted(maps.Keys(e.failed))
}

// Error implements error.
func (e *RenderError) Error() string {
	pages := e.Pages()
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("page %d: %v", p, e.failed[p]))
	}
	return "render failed: " + strings.Join(parts, "; ")
}

// Unwrap returns the per-page errors.
func (e *RenderError) Unwrap() []error {
	errs := make([]error, 0, len(e.failed))
	for _, p := range e.Pages() {
		errs = append(errs, e.failed[p])
	}
	return errs
}
