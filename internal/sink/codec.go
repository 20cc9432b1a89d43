package sink

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
)

type wireOp struct {
	Type          string   `json:"type"`
	Code          []byte   `json:"code,omitempty"`
	MethodName    string   `json:"method_name,omitempty"`
	Args          []byte   `json:"args,omitempty"`
	Deposit       string   `json:"deposit,omitempty"`
	Gas           string   `json:"gas,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	PublicKey     string   `json:"public_key,omitempty"`
	Allowance     string   `json:"allowance,omitempty"`
	ReceiverID    string   `json:"receiver_id,omitempty"`
	MethodNames   []string `json:"method_names,omitempty"`
	BeneficiaryID string   `json:"beneficiary_id,omitempty"`
}

type wirePromise struct {
	Receiver string   `json:"receiver"`
	Ops      []wireOp `json:"ops"`
}

type wireBatch struct {
	ID       string        `json:"id"`
	Origin   string        `json:"origin"`
	Promises []wirePromise `json:"promises"`
}

func (b Batch) MarshalJSON() ([]byte, error) {
	out := wireBatch{ID: b.ID, Origin: b.Origin.String(), Promises: make([]wirePromise, 0, len(b.Promises))}
	for _, p := range b.Promises {
		wp, err := encodePromise(p)
		if err != nil {
			return nil, err
		}
		out.Promises = append(out.Promises, wp)
	}
	return json.Marshal(out)
}

func (b *Batch) UnmarshalJSON(data []byte) error {
	var in wireBatch
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := Batch{ID: in.ID, Origin: account.ID(in.Origin)}
	for i, wp := range in.Promises {
		p, err := decodePromise(wp)
		if err != nil {
			return fmt.Errorf("promise %d: %w", i, err)
		}
		decoded.Promises = append(decoded.Promises, p)
	}
	*b = decoded
	return nil
}

func (p Promise) MarshalJSON() ([]byte, error) {
	wp, err := encodePromise(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wp)
}

func (p *Promise) UnmarshalJSON(data []byte) error {
	var wp wirePromise
	if err := json.Unmarshal(data, &wp); err != nil {
		return err
	}
	decoded, err := decodePromise(wp)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func encodePromise(p Promise) (wirePromise, error) {
	wp := wirePromise{Receiver: p.Receiver.String(), Ops: make([]wireOp, 0, len(p.Ops))}
	for _, op := range p.Ops {
		w, err := encodeOp(op)
		if err != nil {
			return wirePromise{}, err
		}
		wp.Ops = append(wp.Ops, w)
	}
	return wp, nil
}

func decodePromise(wp wirePromise) (Promise, error) {
	p := Promise{Receiver: account.ID(wp.Receiver)}
	for i, w := range wp.Ops {
		op, err := decodeOp(w)
		if err != nil {
			return Promise{}, fmt.Errorf("op %d: %w", i, err)
		}
		p.Ops = append(p.Ops, op)
	}
	return p, nil
}

func encodeOp(op Op) (wireOp, error) {
	w := wireOp{Type: op.Type()}
	switch o := op.(type) {
	case CreateAccount:
	case DeployContract:
		w.Code = o.Code
	case FunctionCall:
		w.MethodName = o.MethodName
		w.Args = o.Args
		w.Deposit = dec(o.Deposit)
		if o.Gas > 0 {
			w.Gas = strconv.FormatUint(o.Gas, 10)
		}
	case Transfer:
		w.Amount = dec(o.Amount)
	case Stake:
		w.Amount = dec(o.Amount)
		w.PublicKey = o.PublicKey.String()
	case AddFullAccessKey:
		w.PublicKey = o.PublicKey.String()
	case AddFunctionCallKey:
		w.PublicKey = o.PublicKey.String()
		if !o.Allowance.IsUnlimited() {
			w.Allowance = o.Allowance.String()
		}
		w.ReceiverID = o.ReceiverID.String()
		w.MethodNames = o.MethodNames
	case DeleteKey:
		w.PublicKey = o.PublicKey.String()
	case DeleteAccount:
		w.BeneficiaryID = o.BeneficiaryID.String()
	default:
		return wireOp{}, fmt.Errorf("sink: unknown op %T", op)
	}
	return w, nil
}

func decodeOp(w wireOp) (Op, error) {
	switch w.Type {
	case TypeCreateAccount:
		return CreateAccount{}, nil
	case TypeDeployContract:
		return DeployContract{Code: w.Code}, nil
	case TypeFunctionCall:
		deposit, err := parseAmount(w.Deposit)
		if err != nil {
			return nil, fmt.Errorf("deposit: %w", err)
		}
		var gas uint64
		if w.Gas != "" {
			if gas, err = strconv.ParseUint(w.Gas, 10, 64); err != nil {
				return nil, fmt.Errorf("gas: %w", err)
			}
		}
		return FunctionCall{MethodName: w.MethodName, Args: w.Args, Deposit: deposit, Gas: gas}, nil
	case TypeTransfer:
		amount, err := parseAmount(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		return Transfer{Amount: amount}, nil
	case TypeStake:
		amount, err := parseAmount(w.Amount)
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		key, err := parseKey(w.PublicKey)
		if err != nil {
			return nil, err
		}
		return Stake{Amount: amount, PublicKey: key}, nil
	case TypeAddFullAccessKey:
		key, err := parseKey(w.PublicKey)
		if err != nil {
			return nil, err
		}
		return AddFullAccessKey{PublicKey: key}, nil
	case TypeAddFunctionCallKey:
		key, err := parseKey(w.PublicKey)
		if err != nil {
			return nil, err
		}
		allowance := Unlimited()
		if w.Allowance != "" {
			n, err := parseAmount(w.Allowance)
			if err != nil {
				return nil, fmt.Errorf("allowance: %w", err)
			}
			allowance = Limited(n)
		}
		return AddFunctionCallKey{
			PublicKey:   key,
			Allowance:   allowance,
			ReceiverID:  account.ID(w.ReceiverID),
			MethodNames: w.MethodNames,
		}, nil
	case TypeDeleteKey:
		key, err := parseKey(w.PublicKey)
		if err != nil {
			return nil, err
		}
		return DeleteKey{PublicKey: key}, nil
	case TypeDeleteAccount:
		return DeleteAccount{BeneficiaryID: account.ID(w.BeneficiaryID)}, nil
	default:
		return nil, fmt.Errorf("sink: unknown op type %q", w.Type)
	}
}

func dec(n *uint256.Int) string {
	if n == nil {
		return "0"
	}
	return n.Dec()
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func parseKey(s string) (passkey.PublicKey, error) {
	if s == "" {
		return passkey.PublicKey{}, nil
	}
	return passkey.ParsePublicKey(s)
}
