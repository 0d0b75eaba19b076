package place

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrEmptyQueue signals that no pending work exists. Not a failure;
	// callers report it as an empty result.
	ErrEmptyQueue = errors.New("no pending items")

	// ErrNotFound signals an unknown job, place or folder id.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner signals that the bulk-import caller does not own the
	// destination folder.
	ErrNotOwner = errors.New("not the folder owner")

	// ErrInvalidShareID signals that no share id could be extracted from
	// the bulk-import input.
	ErrInvalidShareID = errors.New("invalid share id")

	// ErrMalformedPayload signals an upstream response missing the
	// expected detail structure. Never retried.
	ErrMalformedPayload = errors.New("malformed upstream payload")
)

// UpstreamError reports a non-2xx response from the upstream provider.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: status %d", e.StatusCode)
}
