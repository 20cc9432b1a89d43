package account

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinLength = 2
	MaxLength = 64
)

var ErrInvalidID = errors.New("account: invalid id")

// ID is a human readable ledger account name such as "alice.near".
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// Validate checks the id against the ledger naming rules: 2..64 chars of
// lowercase alphanumerics, where '-', '_' and '.' separate non-empty parts.
func (id ID) Validate() error {
	s := string(id)
	if len(s) < MinLength || len(s) > MaxLength {
		return fmt.Errorf("%w: %q must be %d..%d characters", ErrInvalidID, s, MinLength, MaxLength)
	}
	prevSeparator := true // disallow a leading separator
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSeparator = false
		case c == '-' || c == '_' || c == '.':
			if prevSeparator {
				return fmt.Errorf("%w: %q has an empty part", ErrInvalidID, s)
			}
			prevSeparator = true
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidID, s, c)
		}
	}
	if prevSeparator {
		return fmt.Errorf("%w: %q ends with a separator", ErrInvalidID, s)
	}
	return nil
}

// Parse trims and validates raw.
func Parse(raw string) (ID, error) {
	id := ID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// IsSubAccountOf reports whether id is a direct or nested child of parent.
func (id ID) IsSubAccountOf(parent ID) bool {
	return parent != "" && strings.HasSuffix(string(id), "."+string(parent))
}

// SubAccount derives the child account name under parent. A name that is
// already scoped under parent is returned unchanged.
func SubAccount(parent ID, name string) ID {
	name = strings.TrimSpace(name)
	child := ID(name)
	if child.IsSubAccountOf(parent) {
		return child
	}
	return ID(name + "." + string(parent))
}
