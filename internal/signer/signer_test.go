package signer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ligun0805/permit-kit/internal/permit"
)

const (
	tokenHex   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	spenderHex = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
)

func newKeySigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key)
}

func fixture(t *testing.T, owner common.Address) (permit.Domain, *permit.TransferAuthorization) {
	t.Helper()
	d, err := permit.NewDomain("Test Token", "1", big.NewInt(31337), tokenHex)
	require.NoError(t, err)
	msg, err := permit.NewBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex,
		big.NewInt(1000), big.NewInt(3), uint64(time.Now().Add(time.Hour).Unix()))
	require.NoError(t, err)
	return d, msg
}

func TestNewKeySignerFromHex(t *testing.T) {
	_, err := NewKeySignerFromHex("")
	assert.Error(t, err)
	_, err = NewKeySignerFromHex("0xnothex")
	assert.Error(t, err)

	s, err := NewKeySignerFromHex("0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	assert.Equal(t, "0x71562b71999873DB5b286dF957af199Ec94617F7", s.Address().Hex())
}

func TestSignWithKeySigner(t *testing.T) {
	s := newKeySigner(t)
	d, msg := fixture(t, s.Address())

	signed, err := Sign(context.Background(), s, d, msg)
	require.NoError(t, err)

	parts, err := signed.Split()
	require.NoError(t, err)
	assert.Equal(t, signed.Signature, parts.Join())

	who, err := permit.Recover(d, msg, signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), who)
}

func TestSignRejectsNonOwner(t *testing.T) {
	s := newKeySigner(t)
	other := newKeySigner(t)
	d, msg := fixture(t, other.Address())

	_, err := Sign(context.Background(), s, d, msg)
	assert.ErrorIs(t, err, permit.ErrInvalidParameter)
}

func TestSignErrorMapping(t *testing.T) {
	owner := newKeySigner(t).Address()
	d, msg := fixture(t, owner)

	tests := []struct {
		name string
		sig  []byte
		err  error
		kind permit.Kind
	}{
		{"user rejected", nil, ErrRejected, permit.KindUserRejected},
		{"prompt cancelled", nil, context.Canceled, permit.KindUserRejected},
		{"prompt timed out", nil, context.DeadlineExceeded, permit.KindSignerError},
		{"transport fault", nil, errors.New("connection refused"), permit.KindSignerError},
		{"short signature", []byte{1, 2, 3}, nil, permit.KindMalformedSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			m := NewMockSigner(ctrl)
			m.EXPECT().Address().Return(owner).AnyTimes()
			m.EXPECT().SignTypedData(gomock.Any(), gomock.Any()).Return(tt.sig, tt.err).Times(1)

			_, err := Sign(context.Background(), m, d, msg)
			require.Error(t, err)
			assert.Equal(t, tt.kind, permit.KindOf(err))
		})
	}
}

func TestSignHonoursCancellation(t *testing.T) {
	s := newKeySigner(t)
	d, msg := fixture(t, s.Address())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Sign(ctx, s, d, msg)
	assert.ErrorIs(t, err, permit.ErrUserRejected)
}

type walletStub struct {
	inner  *KeySigner
	reject bool
	short  bool
}

type providerError struct{ code int }

func (e providerError) Error() string  { return "User rejected the request." }
func (e providerError) ErrorCode() int { return e.code }

func (w *walletStub) SignTypedData_v4(addr common.Address, data string) (hexutil.Bytes, error) {
	if w.reject {
		return nil, providerError{code: codeUserRejected}
	}
	var td apitypes.TypedData
	if err := json.Unmarshal([]byte(data), &td); err != nil {
		return nil, err
	}
	sig, err := w.inner.SignTypedData(context.Background(), td)
	if err != nil || !w.short {
		return sig, err
	}
	return sig[:64], nil
}

func startWallet(t *testing.T, stub *walletStub) *WalletSigner {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", stub))
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	t.Cleanup(srv.Stop)

	w, err := DialWallet(context.Background(), hs.URL, stub.inner.Address())
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestWalletSigner(t *testing.T) {
	inner := newKeySigner(t)

	t.Run("signs through eth_signTypedData_v4", func(t *testing.T) {
		w := startWallet(t, &walletStub{inner: inner})
		d, msg := fixture(t, inner.Address())
		signed, err := Sign(context.Background(), w, d, msg)
		require.NoError(t, err)
		who, err := permit.Recover(d, msg, signed.Signature)
		require.NoError(t, err)
		assert.Equal(t, inner.Address(), who)
	})

	t.Run("signs batches with nested permissions", func(t *testing.T) {
		w := startWallet(t, &walletStub{inner: inner})
		d, _ := fixture(t, inner.Address())
		batch, err := permit.NewBuilder().BuildPermissionBatch(inner.Address().Hex(), []permit.PermissionInput{
			{Token: tokenHex, Spender: spenderHex, Amount: big.NewInt(5), Deadline: uint64(time.Now().Add(time.Hour).Unix())},
		})
		require.NoError(t, err)
		_, err = Sign(context.Background(), w, d, batch)
		require.NoError(t, err)
	})

	t.Run("truncated wallet answer is malformed", func(t *testing.T) {
		w := startWallet(t, &walletStub{inner: inner, short: true})
		d, msg := fixture(t, inner.Address())
		_, err := Sign(context.Background(), w, d, msg)
		assert.ErrorIs(t, err, permit.ErrMalformedSignature)
	})

	t.Run("provider rejection maps to user rejected", func(t *testing.T) {
		w := startWallet(t, &walletStub{inner: inner, reject: true})
		d, msg := fixture(t, inner.Address())
		_, err := Sign(context.Background(), w, d, msg)
		assert.ErrorIs(t, err, permit.ErrUserRejected)
	})
}
