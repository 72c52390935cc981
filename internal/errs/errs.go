package errs

import (
	"errors"
	"fmt"
)

// Domain sentinel errors, mapped to HTTP status codes in the handlers.
// Idempotent vote outcomes are deliberately not errors; they are result
// variants on the vote operations.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidSource         = errors.New("invalid source url")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Unavailable tags an infrastructure failure (store, broker, lock) as
// retryable while keeping the cause in the chain. Idempotent when the
// error is already tagged.
func Unavailable(err error) error {
	if errors.Is(err, ErrDependencyUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
}
