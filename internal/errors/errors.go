package errors

import "errors"

// Session errors.
var (
	ErrUnauthenticated    = errors.New("not logged in")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Server/transport errors.
var (
	ErrRequestFailed = errors.New("API request failed")
	ErrUnreachable   = errors.New("API unreachable")
)
