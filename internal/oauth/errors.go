package oauth

import (
	"errors"
	"fmt"
)

// ErrStateNotFound is returned when a callback presents a state parameter
// that is unknown, expired, or already consumed. This is an expected
// condition (user retries, replayed callbacks) and is never logged as an
// error.
var ErrStateNotFound = errors.New("oauth state not found or already used")

// ErrStateCorrupted is returned when a state key exists but its record
// cannot be decoded. Unlike ErrStateNotFound this should never happen in
// normal operation and callers treat it as a security incident.
var ErrStateCorrupted = errors.New("oauth state record corrupted")

// RegistrationError indicates that dynamic client registration failed.
// Registration failure aborts the flow; there is no anonymous fallback.
type RegistrationError struct {
	// StatusCode is the upstream HTTP status, 0 when the request never
	// completed.
	StatusCode int
	Message    string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("client registration failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("client registration failed: %s", e.Message)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// TokenExchangeError indicates that the authorization code could not be
// exchanged for tokens.
type TokenExchangeError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("token exchange failed: %s", e.Message)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}
