package caleu

import (
	"errors"
	"fmt"
)

// Errors returned by ValidateAPIKey
var (
	ErrInvalidAuth   = errors.New("invalid API key")
	ErrCannotConnect = errors.New("cannot connect to cal.eu API")
)

// AuthenticationError means the API rejected the credential (HTTP 401).
// It is a configuration problem; retrying with the same key will not help.
type AuthenticationError struct {
	Endpoint string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: invalid API key", e.Endpoint)
}

// FetchError is a transient failure: a transport error, a cancelled
// request, an unexpected status code or an undecodable body.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("failed to fetch %s: unexpected status %d", e.Endpoint, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err wraps an *AuthenticationError
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsFetchError reports whether err wraps a *FetchError
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
