// Package action models the generic account operations a passkey holder may
// authorize, and validates them before dispatch.
package action

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

// Kind enumerates the operation shapes a Descriptor can take.
type Kind uint8

const (
	KindCreateAccount Kind = iota + 1
	KindDeployContract
	KindFunctionCall
	KindTransfer
	KindStake
	KindAddKey
	KindDeleteKey
	KindDeleteAccount
)

var kindNames = map[Kind]string{
	KindCreateAccount:  "CreateAccount",
	KindDeployContract: "DeployContract",
	KindFunctionCall:   "FunctionCall",
	KindTransfer:       "Transfer",
	KindStake:          "Stake",
	KindAddKey:         "AddKey",
	KindDeleteKey:      "DeleteKey",
	KindDeleteAccount:  "DeleteAccount",
}

var wireKinds = map[Kind]string{
	KindCreateAccount:  "create_account",
	KindDeployContract: "deploy_contract",
	KindFunctionCall:   "function_call",
	KindTransfer:       "transfer",
	KindStake:          "stake",
	KindAddKey:         "add_key",
	KindDeleteKey:      "delete_key",
	KindDeleteAccount:  "delete_account",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// WireName is the snake_case name used in JSON requests and metric labels.
func (k Kind) WireName() string {
	if s, ok := wireKinds[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind accepts either the wire name ("add_key") or the Go name ("AddKey").
func ParseKind(raw string) (Kind, error) {
	raw = strings.TrimSpace(raw)
	for k, name := range wireKinds {
		if strings.EqualFold(raw, name) || strings.EqualFold(raw, kindNames[k]) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindCreateAccount, KindDeployContract, KindFunctionCall, KindTransfer,
		KindStake, KindAddKey, KindDeleteKey, KindDeleteAccount,
	}
}

// Descriptor is one generic operation request. The set of implementations is
// closed; switch over the concrete types below.
type Descriptor interface {
	Kind() Kind
	isDescriptor()
}

// CreateAccount creates NewAccountID. InitialDeposit and PublicKey are optional;
// when set, the deposit is transferred to and the key granted full access on
// the new account.
type CreateAccount struct {
	NewAccountID   account.ID
	InitialDeposit *uint256.Int
	PublicKey      passkey.PublicKey
}

// DeployContract installs Code on the resolved target.
type DeployContract struct {
	Code []byte
}

// FunctionCall invokes MethodName on ReceiverID. Deposit defaults to zero and
// Gas of zero leaves the budget to the host.
type FunctionCall struct {
	ReceiverID account.ID
	MethodName string
	Args       []byte
	Deposit    *uint256.Int
	Gas        uint64
}

// Transfer moves Amount to ReceiverID.
type Transfer struct {
	ReceiverID account.ID
	Amount     *uint256.Int
}

// Stake registers Amount under the validator key PublicKey.
type Stake struct {
	PublicKey passkey.PublicKey
	Amount    *uint256.Int
}

// AddKey grants PublicKey a function-call capability scoped to ReceiverID and
// MethodNames (empty means any method), capped by Allowance.
type AddKey struct {
	PublicKey   passkey.PublicKey
	ReceiverID  account.ID
	Allowance   *uint256.Int
	MethodNames []string
}

type DeleteKey struct {
	PublicKey passkey.PublicKey
}

// DeleteAccount removes the resolved target; its balance goes to BeneficiaryID.
type DeleteAccount struct {
	BeneficiaryID account.ID
}

func (CreateAccount) Kind() Kind  { return KindCreateAccount }
func (DeployContract) Kind() Kind { return KindDeployContract }
func (FunctionCall) Kind() Kind   { return KindFunctionCall }
func (Transfer) Kind() Kind       { return KindTransfer }
func (Stake) Kind() Kind          { return KindStake }
func (AddKey) Kind() Kind         { return KindAddKey }
func (DeleteKey) Kind() Kind      { return KindDeleteKey }
func (DeleteAccount) Kind() Kind  { return KindDeleteAccount }

func (CreateAccount) isDescriptor()  {}
func (DeployContract) isDescriptor() {}
func (FunctionCall) isDescriptor()   {}
func (Transfer) isDescriptor()       {}
func (Stake) isDescriptor()          {}
func (AddKey) isDescriptor()         {}
func (DeleteKey) isDescriptor()      {}
func (DeleteAccount) isDescriptor()  {}
