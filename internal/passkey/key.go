package passkey

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Curve identifies the signature scheme of a public key.
type Curve uint8

const (
	ED25519 Curve = iota
	SECP256K1
)

var ErrInvalidKey = errors.New("passkey: invalid public key")

func (c Curve) String() string {
	switch c {
	case ED25519:
		return "ed25519"
	case SECP256K1:
		return "secp256k1"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

func (c Curve) keyLen() int {
	switch c {
	case ED25519:
		return 32
	case SECP256K1:
		return 64
	default:
		return 0
	}
}

// PublicKey is a comparable public key. It serves both as a registered
// passkey credential and as the key operand of key-management actions.
type PublicKey struct {
	curve Curve
	data  string
}

// NewPublicKey builds a key from its raw curve point.
func NewPublicKey(curve Curve, data []byte) (PublicKey, error) {
	want := curve.keyLen()
	if want == 0 {
		return PublicKey{}, fmt.Errorf("%w: unsupported curve %s", ErrInvalidKey, curve)
	}
	if len(data) != want {
		return PublicKey{}, fmt.Errorf("%w: %s key must be %d bytes, got %d", ErrInvalidKey, curve, want, len(data))
	}
	return PublicKey{curve: curve, data: string(data)}, nil
}

// ParsePublicKey accepts "<curve>:<base64>"; a bare base64 value is read as
// ed25519. Both standard and URL-safe alphabets, padded or not, are accepted.
func ParsePublicKey(raw string) (PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	curve := ED25519
	if prefix, rest, ok := strings.Cut(raw, ":"); ok {
		switch strings.ToLower(prefix) {
		case "ed25519":
			curve = ED25519
		case "secp256k1":
			curve = SECP256K1
		default:
			return PublicKey{}, fmt.Errorf("%w: unknown curve %q", ErrInvalidKey, prefix)
		}
		raw = rest
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewPublicKey(curve, data)
}

// FromBytes reverses Bytes.
func FromBytes(b []byte) (PublicKey, error) {
	if len(b) == 0 {
		return PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return NewPublicKey(Curve(b[0]), b[1:])
}

func (k PublicKey) Curve() Curve { return k.curve }

// Data returns the raw curve point.
func (k PublicKey) Data() []byte { return []byte(k.data) }

// Bytes is the opaque identity of the key: curve tag followed by the point.
func (k PublicKey) Bytes() []byte {
	out := make([]byte, 0, 1+len(k.data))
	out = append(out, byte(k.curve))
	return append(out, k.data...)
}

func (k PublicKey) IsZero() bool { return k.data == "" }

func (k PublicKey) String() string {
	if k.IsZero() {
		return ""
	}
	return k.curve.String() + ":" + base64.RawURLEncoding.EncodeToString([]byte(k.data))
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = PublicKey{}
		return nil
	}
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
