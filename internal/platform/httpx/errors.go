package httpx

import (
	"errors"
	"net/http"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// RespondError maps the domain error taxonomy to HTTP failure envelopes.
// Retryable conflicts collapse into a generic try-again message: the retry
// layer has already exhausted its attempts by the time we get here.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrNotAuthenticated):
		Fail(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, shared.ErrInvalidCredentials):
		Fail(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, shared.ErrUnauthorized):
		Fail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, shared.ErrInvalidAuthorization):
		Fail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error())
	case shared.IsRetryable(err):
		Fail(w, http.StatusConflict, "operation could not complete due to concurrent activity, please try again")
	case errors.Is(err, shared.ErrDomainConflict):
		Fail(w, http.StatusConflict, err.Error())
	default:
		Fail(w, http.StatusInternalServerError, "internal error")
	}
}
