package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrUnavailable reports a dependency that is not configured or not
	// reachable, such as the delivery store.
	ErrUnavailable = errors.New("unavailable")
)
