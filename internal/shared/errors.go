package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. Unknown identifiers, wrong
	// passwords and inactive accounts all collapse into this error.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStoreUnavailable wraps credential store timeouts and outages. It is never
	// treated as "not found".
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrUnauthenticated indicates a request without a resolved principal reached a
	// protected endpoint.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrAccessDenied indicates an authorization predicate evaluated false.
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation indicates a malformed request body.
	ErrValidation = errors.New("validation failed")
)
