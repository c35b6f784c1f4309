package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// FeePolicy sizes EIP-1559 caps: feeCap = baseFee*BaseMul + tip.
type FeePolicy struct {
	TipGwei   int64 // 0 = use the node's suggestion, then fee history
	BaseMul   int64
	BufferPct int64 // added on top of the gas estimate
}

func DefaultFeePolicy() FeePolicy { return FeePolicy{BaseMul: 2, BufferPct: 5} }

func gweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

// Latest base fee and head number.
func latestBaseFee(ctx context.Context, ec *ethclient.Client) (*big.Int, *big.Int, error) {
	h, err := ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	if h.BaseFee == nil {
		return nil, h.Number, errors.New("no baseFee (pre-1559?)")
	}
	return new(big.Int).Set(h.BaseFee), new(big.Int).Set(h.Number), nil
}

// tipFromFeeHistory returns MAX reward[percentile] over last N blocks.
func tipFromFeeHistory(ctx context.Context, ec *ethclient.Client, blocks uint64, percentile float64) (*big.Int, error) {
	fh, err := ec.FeeHistory(ctx, blocks, nil, []float64{percentile})
	if err != nil {
		return nil, err
	}
	max := big.NewInt(0)
	for _, row := range fh.Reward {
		if len(row) == 0 || row[0] == nil {
			continue
		}
		if row[0].Cmp(max) > 0 {
			max = row[0]
		}
	}
	if max.Sign() == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}
	return new(big.Int).Set(max), nil
}

func (p FeePolicy) tip(ctx context.Context, ec *ethclient.Client) *big.Int {
	if p.TipGwei > 0 {
		return gweiToWei(p.TipGwei)
	}
	if t, err := ec.SuggestGasTipCap(ctx); err == nil && t.Sign() > 0 {
		return t
	}
	if t, err := tipFromFeeHistory(ctx, ec, 20, 50); err == nil {
		return t
	}
	return gweiToWei(1)
}

// caps returns (tip, feeCap) for the next transaction.
func (p FeePolicy) caps(ctx context.Context, ec *ethclient.Client) (*big.Int, *big.Int, error) {
	baseFee, _, err := latestBaseFee(ctx, ec)
	if err != nil {
		return nil, nil, err
	}
	mul := p.BaseMul
	if mul < 1 {
		mul = 2
	}
	tip := p.tip(ctx, ec)
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(mul))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

func (p FeePolicy) gasLimit(est uint64) uint64 {
	if p.BufferPct <= 0 {
		return est
	}
	return est + est*uint64(p.BufferPct)/100
}
