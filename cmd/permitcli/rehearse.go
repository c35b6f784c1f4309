package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/permit-kit/internal/authflow"
	"github.com/ligun0805/permit-kit/internal/ledger"
	"github.com/ligun0805/permit-kit/internal/logger"
	"github.com/ligun0805/permit-kit/internal/permit"
)

// rehearse runs signed against an in-memory ledger seeded from the chain's current
// state, so signature, nonce and balance problems show up before any gas is spent.
func rehearse(ctx context.Context, src ledger.Reader, chainID *big.Int, spender common.Address, signed *permit.SignedAuthorization) (*authflow.Result, error) {
	mem, err := seedMemory(ctx, src, chainID, spender, signed)
	if err != nil {
		return nil, err
	}
	ex := authflow.NewExecutor(chainID, mem, authflow.WithExecutorLogger(logger.Log.Named("rehearsal")))
	if signed.Batch() != nil {
		return ex.RedeemBatch(ctx, signed)
	}
	return ex.RedeemSingle(ctx, signed)
}

func seedMemory(ctx context.Context, src ledger.Reader, chainID *big.Int, spender common.Address, signed *permit.SignedAuthorization) (*ledger.Memory, error) {
	mem := ledger.NewMemory(chainID, spender)
	d := signed.Domain
	if t := signed.Transfer(); t != nil {
		if err := mem.AddToken(d.Name, d.Version, d.VerifyingContract); err != nil {
			return nil, err
		}
		if dec, err := src.Decimals(ctx, d.VerifyingContract); err == nil {
			if err := mem.SetDecimals(d.VerifyingContract, dec); err != nil {
				return nil, err
			}
		}
		res := authflow.NewResolver(src, logger.Log)
		if n, ok := res.Nonce(ctx, d.VerifyingContract, t.Owner); ok {
			if err := mem.SetNonce(d.VerifyingContract, t.Owner, n); err != nil {
				return nil, err
			}
		}
		if bal, ok := authflow.NewBalances(src, logger.Log).Token(ctx, d.VerifyingContract, t.Owner); ok {
			if err := mem.SetBalance(d.VerifyingContract, t.Owner, bal); err != nil {
				return nil, err
			}
		}
		return mem, nil
	}
	if err := mem.AddApprovalContract(d.Name, d.Version, d.VerifyingContract); err != nil {
		return nil, err
	}
	seen := make(map[common.Address]bool)
	for _, p := range signed.Batch().Permissions {
		if seen[p.Token] {
			continue
		}
		seen[p.Token] = true
		// only the address matters for allowances; the name feeds the memory domain
		name, err := src.TokenName(ctx, p.Token)
		if err != nil || name == "" {
			name = p.Token.Hex()
		}
		if err := mem.AddToken(name, "1", p.Token); err != nil {
			return nil, err
		}
	}
	return mem, nil
}
