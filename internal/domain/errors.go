package domain

import "errors"

var (
	// ErrReportNotFound is returned when no backend holds a report with the given id
	ErrReportNotFound = errors.New("report not found")

	// ErrMalformedRecord is returned when a stored record cannot be decoded
	ErrMalformedRecord = errors.New("malformed report record")

	// ErrQuotaExceeded is returned when the backing store rejects a write, even after cleanup
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrBackendUnavailable is returned when the filesystem capability is absent or unwritable
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrRateLimited is returned when rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrHealthAPIFailure is returned when the ingredient health request fails
	ErrHealthAPIFailure = errors.New("ingredient health API request failed")
)
