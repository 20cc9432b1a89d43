// Package sink describes the primitive ledger operations the gateway
// schedules and the destinations that receive them.
package sink

import (
	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

// Op is one primitive operation applied to a promise receiver.
type Op interface {
	Type() string
	isOp()
}

type CreateAccount struct{}

type DeployContract struct {
	Code []byte
}

type FunctionCall struct {
	MethodName string
	Args       []byte
	Deposit    *uint256.Int
	Gas        uint64
}

type Transfer struct {
	Amount *uint256.Int
}

type Stake struct {
	Amount    *uint256.Int
	PublicKey passkey.PublicKey
}

// AddFullAccessKey grants PublicKey unrestricted control of the receiver.
type AddFullAccessKey struct {
	PublicKey passkey.PublicKey
}

// AddFunctionCallKey grants PublicKey the right to call MethodNames (any
// method when empty) on ReceiverID, spending at most Allowance on fees.
type AddFunctionCallKey struct {
	PublicKey   passkey.PublicKey
	Allowance   Allowance
	ReceiverID  account.ID
	MethodNames []string
}

type DeleteKey struct {
	PublicKey passkey.PublicKey
}

// DeleteAccount removes the receiver and sends its balance to BeneficiaryID.
type DeleteAccount struct {
	BeneficiaryID account.ID
}

const (
	TypeCreateAccount      = "create_account"
	TypeDeployContract     = "deploy_contract"
	TypeFunctionCall       = "function_call"
	TypeTransfer           = "transfer"
	TypeStake              = "stake"
	TypeAddFullAccessKey   = "add_full_access_key"
	TypeAddFunctionCallKey = "add_function_call_key"
	TypeDeleteKey          = "delete_key"
	TypeDeleteAccount      = "delete_account"
)

func (CreateAccount) Type() string      { return TypeCreateAccount }
func (DeployContract) Type() string     { return TypeDeployContract }
func (FunctionCall) Type() string       { return TypeFunctionCall }
func (Transfer) Type() string           { return TypeTransfer }
func (Stake) Type() string              { return TypeStake }
func (AddFullAccessKey) Type() string   { return TypeAddFullAccessKey }
func (AddFunctionCallKey) Type() string { return TypeAddFunctionCallKey }
func (DeleteKey) Type() string          { return TypeDeleteKey }
func (DeleteAccount) Type() string      { return TypeDeleteAccount }

func (CreateAccount) isOp()      {}
func (DeployContract) isOp()     {}
func (FunctionCall) isOp()       {}
func (Transfer) isOp()           {}
func (Stake) isOp()              {}
func (AddFullAccessKey) isOp()   {}
func (AddFunctionCallKey) isOp() {}
func (DeleteKey) isOp()          {}
func (DeleteAccount) isOp()      {}

// Allowance caps the fees a function-call key may spend. The zero value is
// unlimited.
type Allowance struct {
	limit *uint256.Int
}

func Unlimited() Allowance { return Allowance{} }

// Limited returns an allowance capped at n. A nil n is unlimited.
func Limited(n *uint256.Int) Allowance {
	if n == nil {
		return Allowance{}
	}
	return Allowance{limit: new(uint256.Int).Set(n)}
}

func (a Allowance) IsUnlimited() bool { return a.limit == nil }

// Limit returns a copy of the cap, or nil when unlimited.
func (a Allowance) Limit() *uint256.Int {
	if a.limit == nil {
		return nil
	}
	return new(uint256.Int).Set(a.limit)
}

func (a Allowance) String() string {
	if a.limit == nil {
		return "unlimited"
	}
	return a.limit.Dec()
}

// Equal compares two allowances by value.
func (a Allowance) Equal(b Allowance) bool {
	if a.limit == nil || b.limit == nil {
		return a.limit == nil && b.limit == nil
	}
	return a.limit.Eq(b.limit)
}
