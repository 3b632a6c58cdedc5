package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrServiceInactive is returned when the target service is disabled.
	ErrServiceInactive = errors.New("dispatch: service is inactive")

	// ErrTemplateNotAllowed is returned when a requested template is outside
	// the service's allowed set.
	ErrTemplateNotAllowed = errors.New("dispatch: template not allowed for service")

	// ErrFromNotAllowed is returned when a request overrides the sender on a
	// service that does not permit overrides.
	ErrFromNotAllowed = errors.New("dispatch: sender override not allowed for service")

	// ErrJSONBodyRequired is returned when the service requires a JSON object
	// body and the request body does not decode as one.
	ErrJSONBodyRequired = errors.New("dispatch: service requires a JSON object body")

	// ErrNoRecipients is returned when recipient resolution leaves nobody to
	// deliver to.
	ErrNoRecipients = errors.New("dispatch: no recipients after filtering")
)

// RateLimitedError reports a rejected send with the time until the quota
// frees up.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("dispatch: rate limit exceeded, retry after %s", e.RetryAfter)
}
