package action

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

// wire is the flat JSON form of every kind; "kind" selects which fields apply.
type wire struct {
	Kind           string   `json:"kind"`
	NewAccountID   string   `json:"new_account_id,omitempty"`
	InitialDeposit *string  `json:"initial_deposit,omitempty"`
	Code           *string  `json:"code,omitempty"`
	ReceiverID     string   `json:"receiver_id,omitempty"`
	MethodName     string   `json:"method_name,omitempty"`
	Args           *string  `json:"args,omitempty"`
	Deposit        *string  `json:"deposit,omitempty"`
	Gas            uint64   `json:"gas,omitempty"`
	Amount         *string  `json:"amount,omitempty"`
	PublicKey      string   `json:"public_key,omitempty"`
	Allowance      *string  `json:"allowance,omitempty"`
	MethodNames    []string `json:"method_names,omitempty"`
	BeneficiaryID  string   `json:"beneficiary_id,omitempty"`
}

// Envelope wraps a Descriptor so it can sit inside JSON request bodies.
type Envelope struct {
	Descriptor
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return Marshal(e.Descriptor)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	d, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Descriptor = d
	return nil
}

// Descriptors unwraps a slice of envelopes.
func Descriptors(envs []Envelope) []Descriptor {
	out := make([]Descriptor, len(envs))
	for i, e := range envs {
		out[i] = e.Descriptor
	}
	return out
}

// Marshal encodes d in its wire form.
func Marshal(d Descriptor) ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	w := wire{Kind: d.Kind().WireName()}
	switch a := d.(type) {
	case CreateAccount:
		w.NewAccountID = a.NewAccountID.String()
		w.InitialDeposit = amountString(a.InitialDeposit)
		w.PublicKey = a.PublicKey.String()
	case DeployContract:
		w.Code = bytesString(a.Code)
	case FunctionCall:
		w.ReceiverID = a.ReceiverID.String()
		w.MethodName = a.MethodName
		w.Args = bytesString(a.Args)
		w.Deposit = amountString(a.Deposit)
		w.Gas = a.Gas
	case Transfer:
		w.ReceiverID = a.ReceiverID.String()
		w.Amount = amountString(a.Amount)
	case Stake:
		w.PublicKey = a.PublicKey.String()
		w.Amount = amountString(a.Amount)
	case AddKey:
		w.PublicKey = a.PublicKey.String()
		w.ReceiverID = a.ReceiverID.String()
		w.Allowance = amountString(a.Allowance)
		w.MethodNames = a.MethodNames
	case DeleteKey:
		w.PublicKey = a.PublicKey.String()
	case DeleteAccount:
		w.BeneficiaryID = a.BeneficiaryID.String()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, d)
	}
	return json.Marshal(w)
}

// Unmarshal decodes a wire descriptor. Fields that do not belong to the kind
// are ignored; presence of required fields is checked by Validate.
func Unmarshal(data []byte) (Descriptor, error) {
	var w wire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("action: decode: %w", err)
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindCreateAccount:
		deposit, err := parseAmount(kind, "initial_deposit", w.InitialDeposit)
		if err != nil {
			return nil, err
		}
		key, err := parseKey(kind, w.PublicKey)
		if err != nil {
			return nil, err
		}
		return CreateAccount{NewAccountID: account.ID(strings.TrimSpace(w.NewAccountID)), InitialDeposit: deposit, PublicKey: key}, nil
	case KindDeployContract:
		code, err := parseBytes(kind, "code", w.Code)
		if err != nil {
			return nil, err
		}
		return DeployContract{Code: code}, nil
	case KindFunctionCall:
		args, err := parseBytes(kind, "args", w.Args)
		if err != nil {
			return nil, err
		}
		deposit, err := parseAmount(kind, "deposit", w.Deposit)
		if err != nil {
			return nil, err
		}
		return FunctionCall{
			ReceiverID: account.ID(strings.TrimSpace(w.ReceiverID)),
			MethodName: w.MethodName,
			Args:       args,
			Deposit:    deposit,
			Gas:        w.Gas,
		}, nil
	case KindTransfer:
		amount, err := parseAmount(kind, "amount", w.Amount)
		if err != nil {
			return nil, err
		}
		return Transfer{ReceiverID: account.ID(strings.TrimSpace(w.ReceiverID)), Amount: amount}, nil
	case KindStake:
		key, err := parseKey(kind, w.PublicKey)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(kind, "amount", w.Amount)
		if err != nil {
			return nil, err
		}
		return Stake{PublicKey: key, Amount: amount}, nil
	case KindAddKey:
		key, err := parseKey(kind, w.PublicKey)
		if err != nil {
			return nil, err
		}
		allowance, err := parseAmount(kind, "allowance", w.Allowance)
		if err != nil {
			return nil, err
		}
		return AddKey{
			PublicKey:   key,
			ReceiverID:  account.ID(strings.TrimSpace(w.ReceiverID)),
			Allowance:   allowance,
			MethodNames: w.MethodNames,
		}, nil
	case KindDeleteKey:
		key, err := parseKey(kind, w.PublicKey)
		if err != nil {
			return nil, err
		}
		return DeleteKey{PublicKey: key}, nil
	case KindDeleteAccount:
		return DeleteAccount{BeneficiaryID: account.ID(strings.TrimSpace(w.BeneficiaryID))}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
}

func amountString(n *uint256.Int) *string {
	if n == nil {
		return nil
	}
	s := n.Dec()
	return &s
}

func bytesString(b []byte) *string {
	if b == nil {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(b)
	return &s
}

func parseAmount(k Kind, field string, s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	n, err := uint256.FromDecimal(strings.TrimSpace(*s))
	if err != nil {
		return nil, invalid(k, field, "not a decimal amount")
	}
	if n.BitLen() > maxAmountBits {
		return nil, invalid(k, field, "exceeds 128 bits")
	}
	return n, nil
}

func parseBytes(k Kind, field string, s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return nil, invalid(k, field, "not base64")
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func parseKey(k Kind, s string) (passkey.PublicKey, error) {
	if strings.TrimSpace(s) == "" {
		return passkey.PublicKey{}, nil
	}
	key, err := passkey.ParsePublicKey(s)
	if err != nil {
		return passkey.PublicKey{}, invalid(k, "public_key", err.Error())
	}
	return key, nil
}
