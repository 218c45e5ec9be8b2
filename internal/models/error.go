package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Token validation failures. The distinctions exist for server-side
	// logging; every one of them maps to the same generic message at the
	// HTTP boundary so callers cannot tell which occurred.
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenUsed      = errors.New("token already used")
	ErrTokenExpired   = errors.New("token expired")

	// State machine failures
	ErrInvalidState      = errors.New("operation not allowed in current authentication state")
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	ErrResendThrottled   = errors.New("resend requested too soon")
)
