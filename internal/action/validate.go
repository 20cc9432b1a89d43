package action

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/sink"
)

// Mode selects how targets are resolved.
type Mode uint8

const (
	// Delegated actions are relayed on behalf of a passkey holder and act on
	// the gateway's own account.
	Delegated Mode = iota + 1
	// Direct actions are signed by the passkey holder and act on the signer.
	Direct
)

func (m Mode) String() string {
	switch m {
	case Delegated:
		return "delegated"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// Env carries the accounts target resolution depends on.
type Env struct {
	Contract account.ID
	Signer   account.ID
}

// Validated is a descriptor that passed validation together with the
// account its operations are addressed to.
type Validated struct {
	Descriptor Descriptor
	Mode       Mode
	Target     account.ID
}

var ErrMissingEnv = errors.New("action: missing execution account")

// maxAmountBits bounds amounts to the ledger's u128 balance width.
const maxAmountBits = 128

// Validate checks that d carries the fields its kind requires and resolves
// the target account for mode.
func Validate(d Descriptor, mode Mode, env Env) (Validated, error) {
	if d == nil {
		return Validated{}, ErrUnknownKind
	}
	var home account.ID
	switch mode {
	case Delegated:
		home = env.Contract
	case Direct:
		home = env.Signer
	default:
		return Validated{}, errors.New("action: unknown mode")
	}
	if home.IsZero() {
		return Validated{}, ErrMissingEnv
	}

	v := Validated{Descriptor: d, Mode: mode, Target: home}
	switch a := d.(type) {
	case CreateAccount:
		if a.NewAccountID.IsZero() {
			return Validated{}, missing(a.Kind(), "new_account_id")
		}
		target := a.NewAccountID
		if mode == Direct {
			target = account.SubAccount(env.Signer, a.NewAccountID.String())
		}
		if err := target.Validate(); err != nil {
			return Validated{}, invalid(a.Kind(), "new_account_id", err.Error())
		}
		if err := checkAmount(a.Kind(), "initial_deposit", a.InitialDeposit); err != nil {
			return Validated{}, err
		}
		v.Target = target
	case DeployContract:
		if a.Code == nil {
			return Validated{}, missing(a.Kind(), "code")
		}
	case FunctionCall:
		if err := requireAccount(a.Kind(), "receiver_id", a.ReceiverID); err != nil {
			return Validated{}, err
		}
		if strings.TrimSpace(a.MethodName) == "" {
			return Validated{}, missing(a.Kind(), "method_name")
		}
		if a.Args == nil {
			return Validated{}, missing(a.Kind(), "args")
		}
		if err := checkAmount(a.Kind(), "deposit", a.Deposit); err != nil {
			return Validated{}, err
		}
		v.Target = a.ReceiverID
	case Transfer:
		if err := requireAccount(a.Kind(), "receiver_id", a.ReceiverID); err != nil {
			return Validated{}, err
		}
		if a.Amount == nil {
			return Validated{}, missing(a.Kind(), "amount")
		}
		if a.Amount.IsZero() {
			return Validated{}, invalid(a.Kind(), "amount", "must be greater than zero")
		}
		if err := checkAmount(a.Kind(), "amount", a.Amount); err != nil {
			return Validated{}, err
		}
		v.Target = a.ReceiverID
	case Stake:
		if a.PublicKey.IsZero() {
			return Validated{}, missing(a.Kind(), "public_key")
		}
		if a.Amount == nil {
			return Validated{}, missing(a.Kind(), "amount")
		}
		if err := checkAmount(a.Kind(), "amount", a.Amount); err != nil {
			return Validated{}, err
		}
	case AddKey:
		if a.PublicKey.IsZero() {
			return Validated{}, missing(a.Kind(), "public_key")
		}
		if err := requireAccount(a.Kind(), "receiver_id", a.ReceiverID); err != nil {
			return Validated{}, err
		}
		if err := checkAmount(a.Kind(), "allowance", a.Allowance); err != nil {
			return Validated{}, err
		}
		for _, m := range a.MethodNames {
			if strings.TrimSpace(m) == "" {
				return Validated{}, invalid(a.Kind(), "method_names", "empty method name")
			}
		}
	case DeleteKey:
		if a.PublicKey.IsZero() {
			return Validated{}, missing(a.Kind(), "public_key")
		}
	case DeleteAccount:
		if err := requireAccount(a.Kind(), "beneficiary_id", a.BeneficiaryID); err != nil {
			return Validated{}, err
		}
	default:
		return Validated{}, ErrUnknownKind
	}
	return v, nil
}

// AllowanceFor maps an optional allowance amount to a key allowance. An
// absent or zero amount grants an unlimited allowance.
func AllowanceFor(n *uint256.Int) sink.Allowance {
	if n == nil || n.IsZero() {
		return sink.Unlimited()
	}
	return sink.Limited(n)
}

func requireAccount(k Kind, field string, id account.ID) error {
	if id.IsZero() {
		return missing(k, field)
	}
	if err := id.Validate(); err != nil {
		return invalid(k, field, err.Error())
	}
	return nil
}

func checkAmount(k Kind, field string, n *uint256.Int) error {
	if n != nil && n.BitLen() > maxAmountBits {
		return invalid(k, field, "exceeds 128 bits")
	}
	return nil
}
