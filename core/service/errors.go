package service

import "errors"

var (
	// ErrNotFound is returned for an unknown or removed container id
	ErrNotFound = errors.New("not found")

	// ErrImageNotFound is returned when an image reference matches no known image
	ErrImageNotFound = errors.New("image not found")

	// ErrConflict is returned for an illegal status transition or a competing operation
	ErrConflict = errors.New("conflict")

	// ErrRuntime is returned when the engine rejected or failed an operation
	ErrRuntime = errors.New("runtime error")

	// ErrRuntimeUnavailable is returned when the engine stayed unreachable after retries
	ErrRuntimeUnavailable = errors.New("runtime unavailable")

	// ErrValidation is returned for malformed input
	ErrValidation = errors.New("validation error")
)
