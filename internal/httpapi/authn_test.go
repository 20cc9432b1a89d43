package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/passkey"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: unexpected error state: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q want %q", tc.header, got, tc.want)
		}
	}
}

func TestWithAuthAttachesIdentity(t *testing.T) {
	tokens, err := auth.NewTokens("secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	key := credentialKey(t, 'K')
	token, _, err := tokens.Issue(auth.Identity{Caller: "relayer.near", Signer: "alice.near", SignerKey: key})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	a := &API{tokens: tokens, account: gatewayAccount}

	var seen auth.Identity
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ec, err := a.executionContext(r)
		if err != nil {
			t.Errorf("executionContext: %v", err)
		}
		if ec.CurrentAccount != gatewayAccount {
			t.Errorf("unexpected current account %q", ec.CurrentAccount)
		}
		seen, _ = auth.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/direct", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if seen.Caller != "relayer.near" || seen.Signer != "alice.near" || seen.SignerKey != key {
		t.Fatalf("unexpected identity: %+v", seen)
	}
}

func TestWithAuthSkipsQueries(t *testing.T) {
	a := &API{}
	called := false
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, err := a.executionContext(r); err == nil {
			t.Errorf("expected no identity on anonymous query")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/credentials", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("query should not require a token")
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	a := &API{}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodDelete, "/v1/credentials/"+passkey.ED25519.String()+":AAAA", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
