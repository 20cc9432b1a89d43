package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/controller"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

// withAuth resolves the bearer token into an identity. Read-only queries and
// probes pass through without one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		id, err := a.tokens.Parse(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// executionContext builds the per-call context from the authenticated
// identity.
func (a *API) executionContext(r *http.Request) (controller.ExecutionContext, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return controller.ExecutionContext{}, auth.ErrUnauthenticated
	}
	return controller.ExecutionContext{
		CurrentAccount: a.account,
		Caller:         id.Caller,
		Signer:         id.Signer,
		SignerKey:      id.SignerKey,
	}, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublic(r *http.Request) bool {
	for _, p := range publicPaths {
		if r.URL.Path == p {
			return true
		}
	}
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}
