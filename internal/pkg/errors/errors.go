package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrMissingConfig     = errors.New("missing configuration")
	ErrSyncInProgress    = errors.New("sync already in progress")
	// ErrSyncLeaseLost cancels a running sync whose gate was taken away.
	ErrSyncLeaseLost     = errors.New("sync lease lost")
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrProductGone means the upstream catalog no longer has the product.
	ErrProductGone = errors.New("product no longer exists upstream")
)
