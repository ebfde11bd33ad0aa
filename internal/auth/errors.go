package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken is returned when no credential has been authorized yet.
	ErrNoToken = errors.New("no token available, run authorize first")

	// ErrReauthorizationRequired means the refresh token is expired or revoked
	// and an operator has to run the interactive authorization again.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrShortLivedToken means the identity endpoint issued an access token
	// that expires within the refresh margin.
	ErrShortLivedToken = errors.New("issued token expires within the refresh margin")
)

// PersistenceError reports a failure to load or save the durable token.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("token %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("token %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// endpointError is a non-2xx answer from the identity endpoint.
type endpointError struct {
	StatusCode int
	Code       string // OAuth2 "error" member, when present
	Body       string
}

func (e *endpointError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity endpoint status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("identity endpoint status %d: %s", e.StatusCode, e.Body)
}
