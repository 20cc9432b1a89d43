package action

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("action: missing required field")
	ErrInvalidField = errors.New("action: invalid field")
	ErrUnknownKind  = errors.New("action: unknown kind")
)

// MissingFieldError names the absent field and the kind that requires it.
type MissingFieldError struct {
	Kind  Kind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("action: %s requires %s", e.Kind, e.Field)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// InvalidFieldError reports a field that is present but unusable.
type InvalidFieldError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("action: %s has invalid %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *InvalidFieldError) Is(target error) bool { return target == ErrInvalidField }

func missing(k Kind, field string) error {
	return &MissingFieldError{Kind: k, Field: field}
}

func invalid(k Kind, field, reason string) error {
	return &InvalidFieldError{Kind: k, Field: field, Reason: reason}
}
