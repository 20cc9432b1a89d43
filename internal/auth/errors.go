package auth

import "errors"

var (
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrMissingSecret   = errors.New("auth: secret is not configured")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)
