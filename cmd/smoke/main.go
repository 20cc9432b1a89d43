// Command smoke drives a running gatewayd (ledger sink mode) through
// initialization, credential registration and a delegated account creation.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/config"
	"passkeygate.org/internal/passkey"
)

type client struct {
	base   string
	http   *http.Client
	tokens *auth.Tokens
}

func main() {
	var (
		baseURL    = flag.String("url", envOr("PASSKEYGATE_URL", "http://localhost:8080"), "Gateway base URL")
		configPath = flag.String("config", os.Getenv("PASSKEYGATE_CONFIG"), "Path to the gateway's YAML config")
		owner      = flag.String("owner", "owner.near", "Owner account used at initialization")
		relayer    = flag.String("relayer", "relayer.near", "Trusted relayer used at initialization")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	c := &client{base: *baseURL, http: &http.Client{Timeout: 5 * time.Second}, tokens: tokens}
	gateway := account.ID(cfg.Gateway.Account)

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		log.Fatalf("random key: %v", err)
	}
	cred, err := passkey.NewPublicKey(passkey.ED25519, raw)
	if err != nil {
		log.Fatalf("key: %v", err)
	}

	code, _ := c.call(http.MethodPost, "/v1/initialize", gateway, map[string]any{
		"owner":           *owner,
		"trusted_relayer": *relayer,
	}, nil)
	if code != http.StatusCreated && code != http.StatusConflict {
		log.Fatalf("initialize: unexpected status %d", code)
	}

	relayerID := account.ID(*relayer)
	c.mustCall(http.MethodPost, "/v1/credentials", relayerID, map[string]any{"credential": cred}, http.StatusOK, nil)

	newAccount := account.ID(fmt.Sprintf("smoke%d.%s", time.Now().Unix(), gateway))
	c.mustCall(http.MethodPost, "/v1/actions/delegated", relayerID, map[string]any{
		"credential": cred,
		"action": map[string]any{
			"kind":            "create_account",
			"new_account_id":  newAccount,
			"initial_deposit": "10",
		},
	}, http.StatusAccepted, nil)

	var acc struct {
		Balance string `json:"balance"`
	}
	c.mustCall(http.MethodGet, "/v1/ledger/accounts/"+newAccount.String(), "", nil, http.StatusOK, &acc)
	if acc.Balance != "10" {
		log.Fatalf("unexpected balance for %s: %s", newAccount, acc.Balance)
	}

	c.mustCall(http.MethodDelete, "/v1/credentials/"+cred.String(), relayerID, nil, http.StatusOK, nil)

	fmt.Printf("gateway smoke test passed: account=%s credential=%s\n", newAccount, cred)
}

func (c *client) call(method, path string, as account.ID, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, _, err := c.tokens.Issue(auth.Identity{Caller: as, Signer: as})
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (c *client) mustCall(method, path string, as account.ID, body any, want int, out any) {
	code, err := c.call(method, path, as, body, out)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if code != want {
		log.Fatalf("%s %s: expected %d, got %d", method, path, want, code)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
