package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

const (
	defaultIssuer = "passkeygate"
	defaultTTL    = 15 * time.Minute
	clockSkew     = 5 * time.Second
)

// Claims carries the execution identity of a gateway call. Subject is the
// calling account; Signer and SignerKey describe the transaction signer.
type Claims struct {
	Signer    string `json:"signer"`
	SignerKey string `json:"signer_key,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated view of a bearer token.
type Identity struct {
	Caller    account.ID
	Signer    account.ID
	SignerKey passkey.PublicKey
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Tokens)

func WithIssuer(issuer string) Option {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(t *Tokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTokens(secret string, opts ...Option) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	t := &Tokens{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for id. The caller and signer are required; the signer
// key may be empty when the signer holds no passkey.
func (t *Tokens) Issue(id Identity) (string, time.Time, error) {
	if id.Caller.IsZero() {
		return "", time.Time{}, errors.New("auth: caller is required")
	}
	if id.Signer.IsZero() {
		return "", time.Time{}, errors.New("auth: signer is required")
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Signer:    id.Signer.String(),
		SignerKey: id.SignerKey.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.Caller.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the token signature and claims and returns the identity.
func (t *Tokens) Parse(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := Identity{Caller: account.ID(claims.Subject), Signer: account.ID(claims.Signer)}
	if claims.SignerKey != "" {
		key, err := passkey.ParsePublicKey(claims.SignerKey)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: signer key: %v", ErrInvalidToken, err)
		}
		id.SignerKey = key
	}
	return id, nil
}

func (t *Tokens) validateClaims(claims *Claims) error {
	if claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if err := account.ID(claims.Subject).Validate(); err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if err := account.ID(claims.Signer).Validate(); err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now()
	if claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
