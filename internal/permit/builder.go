package permit

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxUint256 is the amount stored for a confirmed unlimited permission.
func MaxUint256() *big.Int {
	return new(uint256.Int).SetAllOne().ToBig()
}

// Builder validates inputs and produces immutable messages.
type Builder struct {
	Now func() time.Time
	// AllowUnlimited enables unlimited permissions at all; each batch containing one
	// still needs ConfirmUnlimited.
	AllowUnlimited bool
}

func NewBuilder() *Builder { return &Builder{Now: time.Now} }

func (b *Builder) now() time.Time {
	if b == nil || b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// BuildTransferAuthorization validates and returns a Permit message.
func (b *Builder) BuildTransferAuthorization(owner, spender string, value, nonce *big.Int, deadline uint64) (*TransferAuthorization, error) {
	o, err := ParseAddress("owner", owner)
	if err != nil {
		return nil, err
	}
	s, err := ParseAddress("spender", spender)
	if err != nil {
		return nil, err
	}
	if o == s {
		return nil, invalidf("owner and spender are the same account")
	}
	if err := checkUint256("value", value); err != nil {
		return nil, err
	}
	if err := checkUint256("nonce", nonce); err != nil {
		return nil, err
	}
	if err := b.checkDeadline("deadline", deadline); err != nil {
		return nil, err
	}
	return &TransferAuthorization{
		Owner:    o,
		Spender:  s,
		Value:    new(big.Int).Set(value),
		Nonce:    new(big.Int).Set(nonce),
		Deadline: deadline,
	}, nil
}

// PermissionInput is the unvalidated form of a Permission.
type PermissionInput struct {
	Token     string
	Spender   string
	Amount    *big.Int
	Deadline  uint64
	Unlimited bool
}

type batchOptions struct {
	unlimitedConfirmed bool
}

type BatchOption func(*batchOptions)

// ConfirmUnlimited records the separate, explicit confirmation an unlimited grant needs.
func ConfirmUnlimited() BatchOption {
	return func(o *batchOptions) { o.unlimitedConfirmed = true }
}

// BuildPermissionBatch validates every entry independently and returns the batch.
func (b *Builder) BuildPermissionBatch(owner string, perms []PermissionInput, opts ...BatchOption) (*PermissionBatch, error) {
	var bo batchOptions
	for _, fn := range opts {
		fn(&bo)
	}
	o, err := ParseAddress("owner", owner)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, invalidf("permission batch is empty")
	}
	out := &PermissionBatch{Owner: o, Permissions: make([]Permission, 0, len(perms))}
	for i, in := range perms {
		p, err := b.buildPermission(i, o, in, bo)
		if err != nil {
			return nil, err
		}
		out.Permissions = append(out.Permissions, p)
	}
	return out, nil
}

func (b *Builder) buildPermission(i int, owner common.Address, in PermissionInput, bo batchOptions) (Permission, error) {
	token, err := ParseAddress(fieldAt("token", i), in.Token)
	if err != nil {
		return Permission{}, err
	}
	spender, err := ParseAddress(fieldAt("spender", i), in.Spender)
	if err != nil {
		return Permission{}, err
	}
	if spender == owner {
		return Permission{}, invalidf("permissions[%d]: spender equals owner", i)
	}
	if err := b.checkDeadline(fieldAt("deadline", i), in.Deadline); err != nil {
		return Permission{}, err
	}
	p := Permission{Token: token, Spender: spender, Deadline: in.Deadline}
	if in.Unlimited {
		if !b.AllowUnlimited {
			return Permission{}, invalidf("permissions[%d]: unlimited permissions are disabled", i)
		}
		if !bo.unlimitedConfirmed {
			return Permission{}, invalidf("permissions[%d]: unlimited permission requires explicit confirmation", i)
		}
		p.Unlimited = true
		p.Amount = MaxUint256()
		return p, nil
	}
	if err := checkUint256(fieldAt("amount", i), in.Amount); err != nil {
		return Permission{}, err
	}
	if in.Amount.Sign() == 0 {
		return Permission{}, invalidf("permissions[%d]: amount is zero", i)
	}
	p.Amount = new(big.Int).Set(in.Amount)
	return p, nil
}

func (b *Builder) checkDeadline(field string, deadline uint64) error {
	now := b.now().Unix()
	if now < 0 || deadline <= uint64(now) {
		return invalidf("%s %d is not after now (%d)", field, deadline, now)
	}
	return nil
}

func checkUint256(field string, v *big.Int) error {
	if v == nil {
		return invalidf("%s is missing", field)
	}
	if v.Sign() < 0 {
		return invalidf("%s is negative", field)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return invalidf("%s exceeds 256 bits", field)
	}
	return nil
}

func fieldAt(name string, i int) string {
	return "permissions[" + strconv.Itoa(i) + "]." + name
}
