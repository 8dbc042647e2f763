// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Client-facing details. Internal error text is never echoed.
const (
	detailInvalidCredentials = "invalid username or password"
	detailUnauthenticated    = "authentication required"
	detailUnavailable        = "service temporarily unavailable"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		Unauthorized(w, detailInvalidCredentials)
	case errors.Is(err, shared.ErrUnauthenticated):
		Unauthorized(w, detailUnauthenticated)
	case errors.Is(err, shared.ErrAccessDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrStoreUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", detailUnavailable)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Unauthorized writes a 401 problem with a bearer challenge.
func Unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey"`)
	Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
}
