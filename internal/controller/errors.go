package controller

import (
	"errors"
	"fmt"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

var (
	ErrUnauthorized       = errors.New("controller: unauthorized")
	ErrNotRegistered      = errors.New("controller: credential not registered")
	ErrAlreadyInitialized = errors.New("controller: already initialized")
	ErrNotInitialized     = errors.New("controller: not initialized")
)

// AuthorizationError is returned when the caller lacks the role an entry
// point requires.
type AuthorizationError struct {
	Op     string
	Caller account.ID
	Role   string
}

func (e *AuthorizationError) Error() string {
	caller := e.Caller.String()
	if caller == "" {
		caller = "anonymous caller"
	}
	return fmt.Sprintf("controller: %s is restricted to the %s, got %s", e.Op, e.Role, caller)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// NotRegisteredError is returned when a credential is not in the registry.
type NotRegisteredError struct {
	Credential passkey.PublicKey
}

func (e *NotRegisteredError) Error() string {
	if e.Credential.IsZero() {
		return "controller: no credential presented"
	}
	return fmt.Sprintf("controller: credential %s is not registered", e.Credential)
}

func (e *NotRegisteredError) Is(target error) bool { return target == ErrNotRegistered }
