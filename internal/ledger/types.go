package ledger

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink"
)

// Account is a ledger account. Balance is liquid; Locked is staked.
type Account struct {
	ID        account.ID   `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Balance   *uint256.Int `json:"-"`
	Locked    *uint256.Int `json:"-"`
	CodeSize  int          `json:"code_size"`
	Keys      []AccessKey  `json:"keys"`
	// ValidatorKey is set once the account stakes.
	ValidatorKey passkey.PublicKey `json:"validator_key"`
}

// AccessKey is a key granted on an account. A key without FullAccess may
// only call MethodNames on ReceiverID within Allowance.
type AccessKey struct {
	PublicKey   passkey.PublicKey `json:"public_key"`
	FullAccess  bool              `json:"full_access"`
	Allowance   sink.Allowance    `json:"-"`
	ReceiverID  account.ID        `json:"receiver_id,omitempty"`
	MethodNames []string          `json:"method_names,omitempty"`
}

// Call records a function call delivered to a receiver.
type Call struct {
	Sequence   uint64       `json:"sequence"`
	Caller     account.ID   `json:"caller"`
	Receiver   account.ID   `json:"receiver"`
	MethodName string       `json:"method_name"`
	Args       []byte       `json:"args"`
	Deposit    *uint256.Int `json:"-"`
	Gas        uint64       `json:"gas"`
}

// Receipt is the outcome of applying one promise. Failed promises leave no
// trace beyond their receipt.
type Receipt struct {
	Sequence  uint64     `json:"sequence"`
	BatchID   string     `json:"batch_id"`
	Index     int        `json:"index"`
	Receiver  account.ID `json:"receiver"`
	OK        bool       `json:"ok"`
	Error     string     `json:"error,omitempty"`
	AppliedAt time.Time  `json:"applied_at"`
}

var (
	ErrNotFound          = errors.New("ledger: account not found")
	ErrAccountExists     = errors.New("ledger: account already exists")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrKeyExists         = errors.New("ledger: access key already exists")
	ErrKeyNotFound       = errors.New("ledger: access key not found")
	ErrStillStaked       = errors.New("ledger: account has locked stake")
	ErrNoCode            = errors.New("ledger: receiver has no contract")
)
