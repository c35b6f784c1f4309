package permit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	PrimaryPermit   = "Permit"
	PrimaryApproval = "Approval"
)

// Message is one of *TransferAuthorization or *PermissionBatch.
type Message interface {
	PrimaryType() string
	Types() apitypes.Types
	Data() map[string]interface{}
	// Account is the owner whose key must sign the message.
	Account() common.Address
	// Expiry is the earliest deadline carried by the message.
	Expiry() uint64
	sealed()
}

// TransferAuthorization is an EIP-2612 Permit.
type TransferAuthorization struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline uint64
}

func (*TransferAuthorization) sealed() {}

func (t *TransferAuthorization) PrimaryType() string      { return PrimaryPermit }
func (t *TransferAuthorization) Account() common.Address { return t.Owner }
func (t *TransferAuthorization) Expiry() uint64          { return t.Deadline }

func (t *TransferAuthorization) Types() apitypes.Types {
	return apitypes.Types{
		PrimaryPermit: {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
}

func (t *TransferAuthorization) Data() map[string]interface{} {
	return map[string]interface{}{
		"owner":    t.Owner.Hex(),
		"spender":  t.Spender.Hex(),
		"value":    new(big.Int).Set(t.Value),
		"nonce":    new(big.Int).Set(t.Nonce),
		"deadline": new(big.Int).SetUint64(t.Deadline),
	}
}

// Permission is one bounded grant inside a batch.
type Permission struct {
	Token     common.Address
	Spender   common.Address
	Amount    *big.Int
	Deadline  uint64
	Unlimited bool
}

func (p Permission) data() map[string]interface{} {
	return map[string]interface{}{
		"token":     p.Token.Hex(),
		"spender":   p.Spender.Hex(),
		"amount":    new(big.Int).Set(p.Amount),
		"deadline":  new(big.Int).SetUint64(p.Deadline),
		"unlimited": p.Unlimited,
	}
}

// PermissionBatch is an ordered set of permissions signed once by Owner.
type PermissionBatch struct {
	Owner       common.Address
	Permissions []Permission
}

func (*PermissionBatch) sealed() {}

func (b *PermissionBatch) PrimaryType() string      { return PrimaryApproval }
func (b *PermissionBatch) Account() common.Address { return b.Owner }

func (b *PermissionBatch) Expiry() uint64 {
	var min uint64
	for i, p := range b.Permissions {
		if i == 0 || p.Deadline < min {
			min = p.Deadline
		}
	}
	return min
}

func (b *PermissionBatch) Types() apitypes.Types {
	return apitypes.Types{
		PrimaryApproval: {
			{Name: "owner", Type: "address"},
			{Name: "permissions", Type: "Permission[]"},
		},
		"Permission": {
			{Name: "token", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "amount", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "unlimited", Type: "bool"},
		},
	}
}

func (b *PermissionBatch) Data() map[string]interface{} {
	perms := make([]interface{}, 0, len(b.Permissions))
	for _, p := range b.Permissions {
		perms = append(perms, p.data())
	}
	return map[string]interface{}{
		"owner":       b.Owner.Hex(),
		"permissions": perms,
	}
}

// HasUnlimited reports whether any entry is an unlimited grant.
func (b *PermissionBatch) HasUnlimited() bool {
	for _, p := range b.Permissions {
		if p.Unlimited {
			return true
		}
	}
	return false
}
