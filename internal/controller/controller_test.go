package controller

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/action"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink"
	"passkeygate.org/internal/store"
)

const (
	gateway = account.ID("gateway.near")
	owner   = account.ID("owner.near")
	relayer = account.ID("relayer.near")
)

func TestMain(m *testing.M) {
	obs.Logger().SetOutput(io.Discard)
	os.Exit(m.Run())
}

func credential(t *testing.T, fill byte) passkey.PublicKey {
	t.Helper()
	k, err := passkey.NewPublicKey(passkey.ED25519, bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	return k
}

type fixture struct {
	ctrl *Controller
	kv   *store.Memory
	rec  *sink.Recorder
	a, b passkey.PublicKey
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{kv: store.NewMemory(), rec: &sink.Recorder{}, a: credential(t, 'A'), b: credential(t, 'B')}
	f.ctrl = New(f.kv, f.rec, WithBatchIDs(func() string { return "batch-1" }))
	err := f.ctrl.Initialize(context.Background(), ExecutionContext{CurrentAccount: gateway, Caller: gateway},
		InitParams{Owner: owner, TrustedRelayer: relayer, Credentials: []passkey.PublicKey{f.a, f.b}})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return f
}

func as(caller account.ID) ExecutionContext {
	return ExecutionContext{CurrentAccount: gateway, Caller: caller, Signer: caller}
}

func snapshot(t *testing.T, kv *store.Memory) []store.Entry {
	t.Helper()
	entries, err := kv.Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return entries
}

func transfer(to account.ID, amount uint64) action.Transfer {
	return action.Transfer{ReceiverID: to, Amount: uint256.NewInt(amount)}
}

func TestInitializeSeedsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, k := range []passkey.PublicKey{f.a, f.b} {
		if ok, err := f.ctrl.IsCredentialRegistered(ctx, k); err != nil || !ok {
			t.Fatalf("seeded credential %s registered=%v err=%v", k, ok, err)
		}
	}
	if ok, _ := f.ctrl.IsCredentialRegistered(ctx, credential(t, 'C')); ok {
		t.Fatal("unseeded credential must not be registered")
	}
	if got, _ := f.ctrl.Owner(ctx); got != owner {
		t.Fatalf("owner = %s", got)
	}
	if got, _ := f.ctrl.TrustedRelayer(ctx); got != relayer {
		t.Fatalf("relayer = %s", got)
	}
	keys, err := f.ctrl.ListCredentials(ctx)
	if err != nil || len(keys) != 2 || keys[0] != f.a || keys[1] != f.b {
		t.Fatalf("ListCredentials = %v, %v", keys, err)
	}

	err = f.ctrl.Initialize(ctx, as(owner), InitParams{Owner: owner, TrustedRelayer: relayer})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize: expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeRejectsBadAccounts(t *testing.T) {
	ctrl := New(store.NewMemory(), &sink.Recorder{})
	err := ctrl.Initialize(context.Background(), as(gateway), InitParams{Owner: "Not Valid", TrustedRelayer: relayer})
	if !errors.Is(err, account.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := ctrl.Owner(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("failed Initialize must leave no state, got %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	ctrl := New(store.NewMemory(), &sink.Recorder{})
	ctx := context.Background()
	if _, err := ctrl.TrustedRelayer(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("TrustedRelayer: %v", err)
	}
	if _, err := ctrl.AddCredential(ctx, as(relayer), credential(t, 1)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("AddCredential: %v", err)
	}
	if err := ctrl.SetTrustedRelayer(ctx, as(owner), relayer); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("SetTrustedRelayer: %v", err)
	}
}

func TestAddRemoveCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := credential(t, 'C')

	if added, err := f.ctrl.AddCredential(ctx, as(relayer), c); err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	if ok, _ := f.ctrl.IsCredentialRegistered(ctx, c); !ok {
		t.Fatal("credential should be registered after add")
	}
	if added, err := f.ctrl.AddCredential(ctx, as(relayer), c); err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if removed, err := f.ctrl.RemoveCredential(ctx, as(relayer), c); err != nil || !removed {
		t.Fatalf("first remove: removed=%v err=%v", removed, err)
	}
	if ok, _ := f.ctrl.IsCredentialRegistered(ctx, c); ok {
		t.Fatal("credential should be gone after remove")
	}
	if removed, err := f.ctrl.RemoveCredential(ctx, as(relayer), c); err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
}

func TestRegistryMutationsRequireRelayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := snapshot(t, f.kv)
	for _, caller := range []account.ID{"mallory.near", owner, ""} {
		_, err := f.ctrl.AddCredential(ctx, as(caller), credential(t, 'C'))
		var authErr *AuthorizationError
		if !errors.As(err, &authErr) || !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("add by %q: expected AuthorizationError, got %v", caller, err)
		}
		if authErr.Role != "trusted relayer" {
			t.Fatalf("unexpected role %q", authErr.Role)
		}
		if _, err := f.ctrl.RemoveCredential(ctx, as(caller), f.a); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("remove by %q: expected ErrUnauthorized, got %v", caller, err)
		}
	}
	if !reflect.DeepEqual(before, snapshot(t, f.kv)) {
		t.Fatal("unauthorized calls must not change state")
	}
}

func TestSetTrustedRelayerOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.SetTrustedRelayer(ctx, as(relayer), "evil.near"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("relayer rotating itself: expected ErrUnauthorized, got %v", err)
	}
	if err := f.ctrl.SetTrustedRelayer(ctx, as(owner), "bad id!"); !errors.Is(err, account.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := f.ctrl.SetTrustedRelayer(ctx, as(owner), "relayer2.near"); err != nil {
		t.Fatalf("owner rotation: %v", err)
	}
	if got, _ := f.ctrl.TrustedRelayer(ctx); got != "relayer2.near" {
		t.Fatalf("relayer = %s", got)
	}
	if _, err := f.ctrl.AddCredential(ctx, as(relayer), credential(t, 'C')); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old relayer must lose access, got %v", err)
	}
	if _, err := f.ctrl.AddCredential(ctx, as("relayer2.near"), credential(t, 'C')); err != nil {
		t.Fatalf("new relayer add: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.TransferOwnership(ctx, as(relayer), relayer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.ctrl.TransferOwnership(ctx, as(owner), "dao.near"); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if err := f.ctrl.SetTrustedRelayer(ctx, as(owner), "x.near"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous owner must lose access, got %v", err)
	}
	if err := f.ctrl.SetTrustedRelayer(ctx, as("dao.near"), "x.near"); err != nil {
		t.Fatalf("new owner: %v", err)
	}
}

func TestDelegatedTransferScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := snapshot(t, f.kv)

	batch, err := f.ctrl.ExecuteDelegatedAction(ctx, as(relayer), f.a, transfer("x.near", 100))
	if err != nil {
		t.Fatalf("ExecuteDelegatedAction: %v", err)
	}
	want := sink.Batch{
		ID:     "batch-1",
		Origin: gateway,
		Promises: []sink.Promise{{
			Receiver: "x.near",
			Ops:      []sink.Op{sink.Transfer{Amount: uint256.NewInt(100)}},
		}},
	}
	if !reflect.DeepEqual(batch, want) {
		t.Fatalf("returned batch = %+v", batch)
	}
	got := f.rec.Batches()
	if len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("submitted batches = %+v", got)
	}
	if !reflect.DeepEqual(before, snapshot(t, f.kv)) {
		t.Fatal("delegated execution must not mutate registry or trust config")
	}
}

func TestDelegatedRequiresRelayer(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.ExecuteDelegatedAction(context.Background(), as("y.near"), f.a, transfer("x.near", 100))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := len(f.rec.Batches()); n != 0 {
		t.Fatalf("expected no operation scheduled, got %d batches", n)
	}
}

func TestDelegatedRequiresRegisteredCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.ExecuteDelegatedActions(context.Background(), as(relayer), credential(t, 'C'),
		[]action.Descriptor{transfer("x.near", 1)})
	var nr *NotRegisteredError
	if !errors.As(err, &nr) || nr.Credential != credential(t, 'C') {
		t.Fatalf("expected NotRegisteredError for C, got %v", err)
	}
	if len(f.rec.Batches()) != 0 {
		t.Fatal("no batch expected")
	}
}

func TestDirectActionChecksSignerCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The trusted relayer calling with an unregistered signing key is rejected.
	ec := ExecutionContext{CurrentAccount: gateway, Caller: relayer, Signer: "alice.near", SignerKey: credential(t, 'C')}
	if _, err := f.ctrl.ExecuteDirectAction(ctx, ec, action.DeleteKey{PublicKey: f.b}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	ec.SignerKey = passkey.PublicKey{}
	if _, err := f.ctrl.ExecuteDirectAction(ctx, ec, action.DeleteKey{PublicKey: f.b}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("missing signer key: expected ErrNotRegistered, got %v", err)
	}

	// Any caller succeeds when the signing key is registered.
	ec = ExecutionContext{CurrentAccount: gateway, Caller: "random.near", Signer: "alice.near", SignerKey: f.a}
	batch, err := f.ctrl.ExecuteDirectAction(ctx, ec, action.DeleteKey{PublicKey: f.b})
	if err != nil {
		t.Fatalf("ExecuteDirectAction: %v", err)
	}
	if len(batch.Promises) != 1 || batch.Promises[0].Receiver != "alice.near" {
		t.Fatalf("direct target must be the signer, got %+v", batch.Promises)
	}
}

func TestDirectCreateAccountIsSubAccountOfSigner(t *testing.T) {
	f := newFixture(t)
	ec := ExecutionContext{CurrentAccount: gateway, Caller: "alice.near", Signer: "alice.near", SignerKey: f.a}
	batch, err := f.ctrl.ExecuteDirectActions(context.Background(), ec, []action.Descriptor{
		action.CreateAccount{NewAccountID: "wallet", InitialDeposit: uint256.NewInt(5)},
		transfer("bob.near", 1),
	})
	if err != nil {
		t.Fatalf("ExecuteDirectActions: %v", err)
	}
	if len(batch.Promises) != 2 {
		t.Fatalf("expected two promises, got %d", len(batch.Promises))
	}
	if got := batch.Promises[0].Receiver; got != "wallet.alice.near" {
		t.Fatalf("sub-account = %s", got)
	}
}

func TestMissingTargetFieldSchedulesNothing(t *testing.T) {
	f := newFixture(t)
	for _, d := range []action.Descriptor{
		action.Transfer{Amount: uint256.NewInt(100)},
		action.FunctionCall{MethodName: "go", Args: []byte{}},
	} {
		_, err := f.ctrl.ExecuteDelegatedAction(context.Background(), as(relayer), f.a, d)
		var mf *action.MissingFieldError
		if !errors.As(err, &mf) || mf.Field != "receiver_id" || mf.Kind != d.Kind() {
			t.Fatalf("%s: expected missing receiver_id, got %v", d.Kind(), err)
		}
	}
	if len(f.rec.Batches()) != 0 {
		t.Fatal("validation failures must not schedule anything")
	}
}

func TestBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.ExecuteDelegatedActions(context.Background(), as(relayer), f.a, []action.Descriptor{
		transfer("x.near", 1),
		transfer("y.near", 2),
		action.Transfer{ReceiverID: "z.near"},
	})
	if !errors.Is(err, action.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "action 2: ") {
		t.Fatalf("error should name the failing index: %v", err)
	}
	if len(f.rec.Batches()) != 0 {
		t.Fatal("earlier actions in a failed batch must not be submitted")
	}
}

func TestEmptyBatchSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	batch, err := f.ctrl.ExecuteDelegatedActions(context.Background(), as(relayer), f.a, nil)
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if batch.ID != "" || len(f.rec.Batches()) != 0 {
		t.Fatalf("empty batch must not reach the sink: %+v", batch)
	}
}

type failingSink struct{}

func (failingSink) Submit(context.Context, sink.Batch) error { return errors.New("sink down") }

func TestSinkFailureFailsCall(t *testing.T) {
	f := newFixture(t)
	ctrl := New(f.kv, failingSink{})
	_, err := ctrl.ExecuteDelegatedAction(context.Background(), as(relayer), f.a, transfer("x.near", 1))
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected sink error, got %v", err)
	}
}

type failingCommit struct {
	*store.Memory
}

func (failingCommit) Commit(context.Context, []store.Change) error { return errors.New("disk full") }

func TestCommitFailureDiscardsChanges(t *testing.T) {
	f := newFixture(t)
	ctrl := New(failingCommit{f.kv}, f.rec)
	c := credential(t, 'C')
	if _, err := ctrl.AddCredential(context.Background(), as(relayer), c); err == nil {
		t.Fatal("expected commit error")
	}
	if ok, _ := f.ctrl.IsCredentialRegistered(context.Background(), c); ok {
		t.Fatal("failed commit must leave the registry unchanged")
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.ctrl.ExecuteDelegatedAction(ctx, as(relayer), f.a, transfer("x.near", 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOutcomeLabels(t *testing.T) {
	cases := map[string]error{
		"ok":             nil,
		"unauthorized":   &AuthorizationError{Op: "x", Role: "owner"},
		"not_registered": &NotRegisteredError{},
		"invalid":        &action.MissingFieldError{Kind: action.KindTransfer, Field: "amount"},
		"conflict":       ErrAlreadyInitialized,
		"error":          errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcome(err); got != want {
			t.Fatalf("outcome(%v) = %s, want %s", err, got, want)
		}
	}
}
