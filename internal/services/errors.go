package services

import "errors"

// Admission failure modes. Handlers map these to distinct response codes,
// so each rejection tells the caller what to do about it (wait, re-auth,
// request a new credential).
var (
	ErrMissingCredential     = errors.New("credential required")
	ErrUnknownCredential     = errors.New("unknown credential")
	ErrDeactivatedCredential = errors.New("credential is deactivated")
	ErrQuotaExceeded         = errors.New("request quota exceeded")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("master credential required")
)
