package main

import (
	"context"
	"fmt"
	"math/big"
)

// Rough gas figures for the cost preview; the real limit comes from estimateGas.
const (
	gasPermit       = 90_000
	gasTransfer     = 65_000
	gasApprovalBase = 60_000
	gasApprovalEach = 50_000
)

// printNetworkState shows current fees and what the spender may pay for gas units.
func (a *app) printNetworkState(ctx context.Context, gas uint64) {
	baseFee, tip, feeCap, err := a.chain.FeeQuote(ctx)
	if err != nil {
		fmt.Println("[net] fee quote error:", err)
		return
	}
	fmt.Printf("[net] baseFee(now): %s gwei | tip: %s gwei | feeCap: %s gwei\n", formatGwei(baseFee), formatGwei(tip), formatGwei(feeCap))
	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(gas), feeCap)
	fmt.Printf("[net] gas(≈%d) cost: up to %s ETH\n", gas, formatEther(maxCost))
	if bal, ok := a.svc.Balances().Native(ctx, a.spender); ok && bal.Cmp(maxCost) < 0 {
		fmt.Printf("  [WARN] spender balance %s ETH may not cover gas\n", formatEther(bal))
	}
}
