// Package ledger talks to the token contract that owns balances, allowances and
// permit nonces. The executor only sees the Reader/Writer interfaces; Chain is the
// JSON-RPC implementation and Memory an in-process one used for rehearsals.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/permit-kit/internal/permit"
)

// Reader is the read-only side of the ledger. All calls are idempotent.
type Reader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Nonces(ctx context.Context, token, owner common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenName(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	DomainSeparator(ctx context.Context, token common.Address) ([]byte, error)
}

// Writer submits state-changing calls from Sender.
type Writer interface {
	Sender() common.Address
	Permit(ctx context.Context, token common.Address, call PermitCall) (*Receipt, error)
	TransferFrom(ctx context.Context, token, from, to common.Address, value *big.Int) (*Receipt, error)
	ExecuteApproval(ctx context.Context, contract, owner common.Address, perms []permit.Permission, sig []byte) (*Receipt, error)
}

type Ledger interface {
	Reader
	Writer
}

// PermitCall holds the arguments of permit(owner, spender, value, deadline, v, r, s).
type PermitCall struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// NewPermitCall flattens a signed Permit into call arguments.
func NewPermitCall(t *permit.TransferAuthorization, sig permit.Signature) PermitCall {
	return PermitCall{
		Owner:    t.Owner,
		Spender:  t.Spender,
		Value:    new(big.Int).Set(t.Value),
		Deadline: new(big.Int).SetUint64(t.Deadline),
		V:        sig.V,
		R:        sig.R,
		S:        sig.S,
	}
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// RevertError means the ledger refused the call. TxHash is zero when the revert
// was detected before submission (gas estimation).
type RevertError struct {
	Method string
	Reason string
	TxHash common.Hash
	Err    error
}

func (e *RevertError) Error() string {
	s := e.Method + " reverted"
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.TxHash != (common.Hash{}) {
		s += " (tx " + e.TxHash.Hex() + ")"
	}
	return s
}

func (e *RevertError) Unwrap() error { return e.Err }

// Submitted reports whether a transaction was mined (and reverted).
func (e *RevertError) Submitted() bool { return e.TxHash != (common.Hash{}) }

// PendingError means a transaction was broadcast but no receipt arrived in time.
// The transaction may still be included.
type PendingError struct {
	Method string
	TxHash common.Hash
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s pending: tx %s not mined: %v", e.Method, e.TxHash.Hex(), e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }

// SubmitError means the call failed before anything was broadcast: packing,
// gas estimation, fee or nonce reads, signing, or a send the node refused.
// Nothing can land, so the same authorization may be submitted again.
type SubmitError struct {
	Method string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s not submitted: %v", e.Method, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
