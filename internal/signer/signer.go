package signer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ligun0805/permit-kit/internal/permit"
)

//go:generate mockgen -destination=mock_signer.go -package=signer . Signer

// Signer is an external key holder able to sign EIP-712 typed data.
type Signer interface {
	Address() common.Address
	// SignTypedData may block until the key holder approves; it must honour ctx.
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// ErrRejected is returned by signers when the key holder declines the request.
var ErrRejected = errors.New("signature request rejected by user")

// Sign obtains a signature for msg under d and validates it against the owner.
// A rejected or cancelled request is terminal for this attempt; there are no retries.
func Sign(ctx context.Context, s Signer, d permit.Domain, msg permit.Message) (*permit.SignedAuthorization, error) {
	if s == nil {
		return nil, &permit.Error{Kind: permit.KindSignerError, Phase: "sign", Reason: "no signer configured"}
	}
	if msg == nil {
		return nil, permit.Invalidf("sign", "nil message")
	}
	if s.Address() != msg.Account() {
		return nil, permit.Invalidf("sign", "signer %s is not the owner %s", s.Address().Hex(), msg.Account().Hex())
	}
	sig, err := s.SignTypedData(ctx, permit.TypedData(d, msg))
	if err != nil {
		return nil, classify(ctx, err)
	}
	signed, err := permit.NewSignedAuthorization(d, msg, sig)
	if err != nil {
		return nil, err
	}
	return signed, nil
}

func classify(ctx context.Context, err error) error {
	var pe *permit.Error
	switch {
	case errors.As(err, &pe):
		if pe.Phase == "" {
			pe.Phase = "sign"
		}
		return pe
	case errors.Is(err, ErrRejected), errors.Is(err, context.Canceled):
		return &permit.Error{Kind: permit.KindUserRejected, Phase: "sign", Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		// no answer is not a decline: the wallet may be unreachable
		return &permit.Error{Kind: permit.KindSignerError, Phase: "sign", Reason: "signature request timed out", Err: err}
	}
	return &permit.Error{Kind: permit.KindSignerError, Phase: "sign", Err: err}
}
