package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/controller"
	"passkeygate.org/internal/ledger"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/store"
	"passkeygate.org/internal/stream"
)

const (
	gatewayAccount = account.ID("gateway.near")
	ownerAccount   = account.ID("owner.near")
	relayerAccount = account.ID("relayer.near")
)

func TestMain(m *testing.M) {
	obs.Logger().SetOutput(io.Discard)
	os.Exit(m.Run())
}

type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  *auth.Tokens
	ledger  *ledger.InMemory
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	l := ledger.NewInMemory()
	for _, id := range []account.ID{gatewayAccount, "bob.near"} {
		if _, err := l.CreateAccount(context.Background(), id, uint256.NewInt(1000)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	hub := stream.New()
	gw := controller.New(store.NewMemory(), stream.Tee(l, hub))
	api := New(gw, tokens, gatewayAccount, "test", WithLedger(l), WithEvents(hub))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		tokens:  tokens,
		ledger:  l,
		t:       t,
	}
}

func credentialKey(t *testing.T, fill byte) passkey.PublicKey {
	t.Helper()
	k, err := passkey.NewPublicKey(passkey.ED25519, bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	return k
}

// bearer issues a token for caller, signed by signer with key.
func (c *apiClient) bearer(caller, signer account.ID, key passkey.PublicKey) map[string]string {
	c.t.Helper()
	token, _, err := c.tokens.Issue(auth.Identity{Caller: caller, Signer: signer, SignerKey: key})
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	resp, err := c.client.Get(u)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) map[string]any {
	t.Helper()
	body := decode[map[string]any](t, r)
	if r.StatusCode != want {
		t.Fatalf("expected %d, got %d: %v", want, r.StatusCode, body)
	}
	return body
}

func (c *apiClient) initialize(creds ...passkey.PublicKey) {
	c.t.Helper()
	resp := c.post("/v1/initialize", map[string]any{
		"owner":               ownerAccount,
		"trusted_relayer":     relayerAccount,
		"initial_credentials": creds,
	}, c.bearer(gatewayAccount, gatewayAccount, passkey.PublicKey{}))
	expectStatus(c.t, resp, http.StatusCreated)
}

func TestDelegatedTransferFlow(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialKey(t, 'A')
	api.initialize(cred)

	relayer := api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{})
	resp := api.post("/v1/actions/delegated", map[string]any{
		"credential": cred,
		"action":     map[string]any{"kind": "transfer", "receiver_id": "bob.near", "amount": "250"},
	}, relayer)
	batch := expectStatus(t, resp, http.StatusAccepted)
	if batch["origin"] != string(gatewayAccount) {
		t.Fatalf("unexpected origin: %v", batch["origin"])
	}
	promises := batch["promises"].([]any)
	if len(promises) != 1 || promises[0].(map[string]any)["receiver"] != "bob.near" {
		t.Fatalf("unexpected promises: %v", promises)
	}

	resp = api.get("/v1/ledger/accounts/bob.near", nil)
	acc := expectStatus(t, resp, http.StatusOK)
	if acc["balance"] != "1250" {
		t.Fatalf("unexpected bob balance: %v", acc["balance"])
	}
	resp = api.get("/v1/ledger/accounts/gateway.near", nil)
	acc = expectStatus(t, resp, http.StatusOK)
	if acc["balance"] != "750" {
		t.Fatalf("unexpected gateway balance: %v", acc["balance"])
	}

	resp = api.get("/v1/ledger/receipts", url.Values{"limit": []string{"10"}})
	page := expectStatus(t, resp, http.StatusOK)
	items := page["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["ok"] != true {
		t.Fatalf("unexpected receipts: %v", items)
	}
}

func TestDelegatedRejectsUnregisteredCredential(t *testing.T) {
	api := newTestAPI(t)
	api.initialize(credentialKey(t, 'A'))

	resp := api.post("/v1/actions/delegated", map[string]any{
		"credential": credentialKey(t, 'Z'),
		"action":     map[string]any{"kind": "transfer", "receiver_id": "bob.near", "amount": "1"},
	}, api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusForbidden)

	resp = api.get("/v1/ledger/receipts", nil)
	page := expectStatus(t, resp, http.StatusOK)
	if items := page["items"].([]any); len(items) != 0 {
		t.Fatalf("expected nothing scheduled, got %v", items)
	}
}

func TestDelegatedBatchAllOrNothing(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialKey(t, 'A')
	api.initialize(cred)

	resp := api.post("/v1/actions/delegated/batch", map[string]any{
		"credential": cred,
		"actions": []any{
			map[string]any{"kind": "transfer", "receiver_id": "bob.near", "amount": "1"},
			map[string]any{"kind": "delete_account"},
		},
	}, api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusBadRequest)

	bal, err := api.ledger.Balance(context.Background(), "bob.near")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Uint64() != 1000 {
		t.Fatalf("batch partially applied: bob has %s", bal.Dec())
	}
}

func TestDirectActionUsesSignerCredential(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialKey(t, 'A')
	api.initialize(cred)

	body := map[string]any{
		"action": map[string]any{"kind": "create_account", "new_account_id": "sub"},
	}
	resp := api.post("/v1/actions/direct", body, api.bearer("anyone.near", "alice.near", credentialKey(t, 'Q')))
	expectStatus(t, resp, http.StatusForbidden)

	resp = api.post("/v1/actions/direct", body, api.bearer("anyone.near", "alice.near", cred))
	batch := expectStatus(t, resp, http.StatusAccepted)
	promises := batch["promises"].([]any)
	if got := promises[0].(map[string]any)["receiver"]; got != "sub.alice.near" {
		t.Fatalf("unexpected receiver: %v", got)
	}
}

func TestTrustConfigEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.initialize()

	resp := api.get("/v1/relayer", nil)
	got := expectStatus(t, resp, http.StatusOK)
	if got["account_id"] != string(relayerAccount) {
		t.Fatalf("unexpected relayer: %v", got)
	}

	resp = api.do(http.MethodPut, "/v1/relayer", map[string]any{"account_id": "new-relayer.near"},
		api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusForbidden)

	resp = api.do(http.MethodPut, "/v1/relayer", map[string]any{"account_id": "new-relayer.near"},
		api.bearer(ownerAccount, ownerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusOK)

	resp = api.get("/v1/relayer", nil)
	got = expectStatus(t, resp, http.StatusOK)
	if got["account_id"] != "new-relayer.near" {
		t.Fatalf("relayer not rotated: %v", got)
	}

	resp = api.do(http.MethodPut, "/v1/owner", map[string]any{"account_id": "heir.near"},
		api.bearer(ownerAccount, ownerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusOK)
	resp = api.get("/v1/owner", nil)
	got = expectStatus(t, resp, http.StatusOK)
	if got["account_id"] != "heir.near" {
		t.Fatalf("owner not transferred: %v", got)
	}
}

func TestCredentialEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.initialize()
	cred := credentialKey(t, 'C')
	relayer := api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{})
	path := "/v1/credentials/" + url.PathEscape(cred.String())

	resp := api.post("/v1/credentials", map[string]any{"credential": cred},
		api.bearer(ownerAccount, ownerAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusForbidden)

	resp = api.post("/v1/credentials", map[string]any{"credential": cred}, relayer)
	if got := expectStatus(t, resp, http.StatusOK); got["added"] != true {
		t.Fatalf("expected added, got %v", got)
	}
	resp = api.post("/v1/credentials", map[string]any{"credential": cred}, relayer)
	if got := expectStatus(t, resp, http.StatusOK); got["added"] != false {
		t.Fatalf("expected duplicate add to report false, got %v", got)
	}

	resp = api.get(path, nil)
	if got := expectStatus(t, resp, http.StatusOK); got["registered"] != true {
		t.Fatalf("expected registered, got %v", got)
	}
	resp = api.get("/v1/credentials", nil)
	list := expectStatus(t, resp, http.StatusOK)
	if items := list["items"].([]any); len(items) != 1 || items[0] != cred.String() {
		t.Fatalf("unexpected list: %v", items)
	}

	resp = api.do(http.MethodDelete, path, nil, relayer)
	if got := expectStatus(t, resp, http.StatusOK); got["removed"] != true {
		t.Fatalf("expected removed, got %v", got)
	}
	resp = api.get(path, nil)
	if got := expectStatus(t, resp, http.StatusOK); got["registered"] != false {
		t.Fatalf("expected unregistered, got %v", got)
	}
}

func TestInitializeTwiceConflicts(t *testing.T) {
	api := newTestAPI(t)
	api.initialize()

	resp := api.post("/v1/initialize", map[string]any{
		"owner":           ownerAccount,
		"trusted_relayer": relayerAccount,
	}, api.bearer(gatewayAccount, gatewayAccount, passkey.PublicKey{}))
	expectStatus(t, resp, http.StatusConflict)
}

func TestQueriesBeforeInitializeConflict(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.get("/v1/owner", nil), http.StatusConflict)
}

func TestMutationsRequireToken(t *testing.T) {
	api := newTestAPI(t)
	resp := api.post("/v1/initialize", map[string]any{"owner": ownerAccount, "trusted_relayer": relayerAccount}, nil)
	body := expectStatus(t, resp, http.StatusUnauthorized)
	if body["request_id"] == nil {
		t.Fatalf("expected request_id in error body")
	}

	resp = api.post("/v1/initialize", map[string]any{"owner": ownerAccount, "trusted_relayer": relayerAccount},
		map[string]string{"Authorization": "Bearer not-a-token"})
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestMalformedBodies(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialKey(t, 'A')
	api.initialize(cred)
	relayer := api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{})

	resp := api.post("/v1/actions/delegated", map[string]any{"credential": cred}, relayer)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.post("/v1/actions/delegated", map[string]any{
		"credential": cred,
		"action":     map[string]any{"kind": "teleport"},
	}, relayer)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.post("/v1/actions/delegated/batch", map[string]any{"credential": cred, "actions": []any{}}, relayer)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.post("/v1/credentials", map[string]any{"credential": cred, "extra": 1}, relayer)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestProbes(t *testing.T) {
	api := newTestAPI(t)
	if got := expectStatus(t, api.get("/healthz", nil), http.StatusOK); got["status"] != "ok" {
		t.Fatalf("unexpected health: %v", got)
	}
	expectStatus(t, api.get("/readyz", nil), http.StatusOK)
	if got := expectStatus(t, api.get("/v1/info", nil), http.StatusOK); got["account"] != string(gatewayAccount) {
		t.Fatalf("unexpected info: %v", got)
	}
}

func TestEventsStreamAcceptedBatches(t *testing.T) {
	api := newTestAPI(t)
	cred := credentialKey(t, 'A')
	api.initialize(cred)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ":") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	expectStatus(t, api.post("/v1/actions/delegated", map[string]any{
		"credential": cred,
		"action":     map[string]any{"kind": "transfer", "receiver_id": "bob.near", "amount": "3"},
	}, api.bearer(relayerAccount, relayerAccount, passkey.PublicKey{})), http.StatusAccepted)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var evt stream.BatchEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.BatchID == "" || len(evt.Receivers) != 1 || evt.Receivers[0] != "bob.near" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}
