package domain

import "errors"

// Sentinel errors for the mode domain. Use errors.Is() to check these.
var (
	// ErrInvalidMode indicates a mode name other than NORMAL or SUSPEND.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrSuspended indicates the server is in suspend mode and the request
	// or job was refused.
	ErrSuspended = errors.New("server is in suspend mode")
)
