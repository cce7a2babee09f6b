package shared

import "errors"

// Error taxonomy consumed across the treasury core. Handlers translate these
// into the response envelope; only validation and domain conflicts carry
// specific user-facing messages, retryable conditions map to a generic one.
var (
	// ErrValidation indicates malformed input, resolved before any transaction opens.
	ErrValidation = errors.New("validation failed")
	// ErrNotAuthenticated indicates a missing or expired session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUnauthorized indicates insufficient role for the requested view or operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidAuthorization indicates the PIN matched no eligible user or the user is rate limited.
	ErrInvalidAuthorization = errors.New("invalid authorization")
	// ErrDomainConflict indicates a business-rule violation discovered after locking.
	ErrDomainConflict = errors.New("domain conflict")
	// ErrResourceBusy indicates a row lock could not be acquired immediately. Retryable.
	ErrResourceBusy = errors.New("resource busy")
	// ErrConcurrencyConflict indicates a serialization failure or detected deadlock. Retryable.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsRetryable reports whether the caller should retry the operation with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResourceBusy) || errors.Is(err, ErrConcurrencyConflict)
}
