// Package errors defines sentinel errors shared across internal packages.
package errors

import "errors"

// Auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrTokenRefreshFailed = errors.New("token refresh failed")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
