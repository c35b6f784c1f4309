package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// --- small RPC helpers (retry + backoff), reads only ---

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

// Txpool admission errors: the node answered and did not keep the transaction.
var sendRefusals = []string{
	"nonce too low",
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"replacement transaction underpriced",
	"transaction underpriced",
	"max fee per gas less than block base fee",
	"fee cap less than block base fee",
	"invalid sender",
	"tx fee",
	"does not exist/is not available",
}

func isSendRefused(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, r := range sendRefusals {
		if strings.Contains(s, r) {
			return true
		}
	}
	return false
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}

// callWithRetry performs eth_call with small exponential backoff.
// Reverts are final and returned immediately.
func callWithRetry(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ret, err := ec.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		if isRevert(err) {
			return nil, err
		}
		lastErr = err
		if attempt < maxAttempts {
			if !sleepCtx(ctx, backoff) {
				return nil, ctx.Err()
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

func estimateGasWithRetry(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) (uint64, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		g, err := ec.EstimateGas(ctx, msg)
		if err == nil {
			return g, nil
		}
		if isRevert(err) {
			return 0, err
		}
		lastErr = err
		if attempt < maxAttempts {
			if !sleepCtx(ctx, backoff) {
				return 0, ctx.Err()
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return 0, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func revertReason(e error) string {
	s := e.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}
