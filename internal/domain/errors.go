package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoSupportedFiles indicates an upload batch with nothing convertible
	ErrNoSupportedFiles = errors.New("no supported files in upload")
	// ErrNotRetryable indicates a retry of a file that is not in the error state
	ErrNotRetryable = errors.New("file is not in a retryable state")
)
