// Package authflow builds, signs and redeems permit authorizations against a ledger.
package authflow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/ledger"
	"github.com/ligun0805/permit-kit/internal/permit"
)

// Resolver reads the inputs a fresh authorization needs.
type Resolver struct {
	reader ledger.Reader
	log    *zap.Logger
	now    func() time.Time
}

func NewResolver(r ledger.Reader, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{reader: r, log: log, now: time.Now}
}

// Nonce returns the owner's current permit nonce. ok is false when the read failed;
// the caller decides whether a fallback is acceptable.
func (r *Resolver) Nonce(ctx context.Context, token, owner common.Address) (*big.Int, bool) {
	n, err := r.reader.Nonces(ctx, token, owner)
	if err != nil || n == nil || n.Sign() < 0 {
		r.log.Warn("nonce read failed",
			zap.String("token", token.Hex()),
			zap.String("owner", owner.Hex()),
			zap.Error(err),
		)
		return nil, false
	}
	return n, true
}

// Deadline returns now + hours as a unix timestamp.
func (r *Resolver) Deadline(hours int64) (uint64, error) {
	return permit.ComputeDeadline(r.now(), hours)
}
