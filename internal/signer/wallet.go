package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ligun0805/permit-kit/internal/permit"
)

// EIP-1193 provider error codes.
const (
	codeUserRejected = 4001
	codeUnauthorized = 4100
)

// WalletSigner delegates signing to an external wallet over JSON-RPC
// (eth_signTypedData_v4), e.g. a local wallet bridge or clef.
type WalletSigner struct {
	client  *rpc.Client
	address common.Address
}

func DialWallet(ctx context.Context, url string, account common.Address) (*WalletSigner, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet: %w", err)
	}
	return NewWalletSigner(c, account), nil
}

func NewWalletSigner(c *rpc.Client, account common.Address) *WalletSigner {
	return &WalletSigner{client: c, address: account}
}

func (w *WalletSigner) Address() common.Address { return w.address }

func (w *WalletSigner) Close() { w.client.Close() }

// SignTypedData blocks until the wallet answers or ctx ends.
func (w *WalletSigner) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	payload, err := encodeTypedData(td)
	if err != nil {
		return nil, err
	}
	var raw string
	err = w.client.CallContext(ctx, &raw, "eth_signTypedData_v4", w.address, string(payload))
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			switch rpcErr.ErrorCode() {
			case codeUserRejected:
				return nil, fmt.Errorf("%w: %s", ErrRejected, rpcErr.Error())
			case codeUnauthorized:
				return nil, fmt.Errorf("wallet account not authorized: %w", err)
			}
		}
		return nil, err
	}
	sig, err := permit.ParseSignature(raw)
	if err != nil {
		return nil, err
	}
	return sig.Join(), nil
}

// encodeTypedData renders integers as decimal strings so wallets keep full 256-bit precision.
func encodeTypedData(td apitypes.TypedData) ([]byte, error) {
	td.Message = stringifyInts(map[string]interface{}(td.Message)).(map[string]interface{})
	b, err := json.Marshal(td)
	if err != nil {
		return nil, fmt.Errorf("encode typed data: %w", err)
	}
	return b, nil
}

func stringifyInts(v interface{}) interface{} {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = stringifyInts(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = stringifyInts(e)
		}
		return out
	}
	return v
}
