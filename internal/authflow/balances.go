package authflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/ledger"
)

// Balances performs advisory reads. They never gate a redemption; the ledger
// re-checks everything when the write lands.
type Balances struct {
	reader ledger.Reader
	log    *zap.Logger
}

func NewBalances(r ledger.Reader, log *zap.Logger) *Balances {
	if log == nil {
		log = zap.NewNop()
	}
	return &Balances{reader: r, log: log}
}

func (b *Balances) Token(ctx context.Context, token, owner common.Address) (*big.Int, bool) {
	v, err := b.reader.BalanceOf(ctx, token, owner)
	return b.option("balanceOf", v, err, zap.String("token", token.Hex()), zap.String("owner", owner.Hex()))
}

func (b *Balances) Native(ctx context.Context, owner common.Address) (*big.Int, bool) {
	v, err := b.reader.NativeBalance(ctx, owner)
	return b.option("native balance", v, err, zap.String("owner", owner.Hex()))
}

func (b *Balances) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, bool) {
	v, err := b.reader.Allowance(ctx, token, owner, spender)
	return b.option("allowance", v, err,
		zap.String("token", token.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("spender", spender.Hex()),
	)
}

func (b *Balances) option(what string, v *big.Int, err error, fields ...zap.Field) (*big.Int, bool) {
	if err != nil || v == nil {
		b.log.Warn(what+" read failed", append(fields, zap.Error(err))...)
		return nil, false
	}
	return v, true
}
