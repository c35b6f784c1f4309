package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/permit"
)

// Chain is a Ledger backed by a JSON-RPC node.
type Chain struct {
	ec      *ethclient.Client
	abi     abi.ABI
	chainID *big.Int
	key     *ecdsa.PrivateKey // nil for read-only use
	sender  common.Address
	fees    FeePolicy
	log     *zap.Logger

	sendMu sync.Mutex // one nonce/send at a time per sender
}

type ChainOption func(*Chain)

// WithSenderKey enables writes signed by key.
func WithSenderKey(key *ecdsa.PrivateKey) ChainOption {
	return func(c *Chain) {
		c.key = key
		c.sender = crypto.PubkeyToAddress(key.PublicKey)
	}
}

func WithFeePolicy(p FeePolicy) ChainOption { return func(c *Chain) { c.fees = p } }

func WithLogger(l *zap.Logger) ChainOption { return func(c *Chain) { c.log = l } }

func NewChain(ec *ethclient.Client, parsed abi.ABI, chainID *big.Int, opts ...ChainOption) *Chain {
	c := &Chain{ec: ec, abi: parsed, chainID: new(big.Int).Set(chainID), fees: DefaultFeePolicy(), log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ParseSenderKey parses a hex ECDSA private key (with / without 0x).
func ParseSenderKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if h == "" {
		return nil, errors.New("empty private key")
	}
	return crypto.HexToECDSA(h)
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.ec.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chain id")
	}
	return id, nil
}

func (c *Chain) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	ret, err := callWithRetry(ctx, c.ec, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, token.Hex())
	}
	if len(ret) == 0 {
		return nil, errors.Errorf("%s on %s returned no data", method, token.Hex())
	}
	out, err := c.abi.Unpack(method, ret)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned nothing", method)
	}
	return out, nil
}

func (c *Chain) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, token, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s returned non-numeric %T", method, out[0])
	}
	return v, nil
}

func (c *Chain) Nonces(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "nonces", owner)
}

func (c *Chain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", owner)
}

func (c *Chain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Chain) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.ec.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, errors.Wrap(err, "native balance")
	}
	return bal, nil
}

func (c *Chain) TokenName(ctx context.Context, token common.Address) (string, error) {
	out, err := c.call(ctx, token, "name")
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", errors.Errorf("name returned %T", out[0])
	}
	return s, nil
}

// Decimals returns decimals(), or 18 when the ABI does not declare it.
func (c *Chain) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if _, ok := c.abi.Methods["decimals"]; !ok {
		return 18, nil
	}
	out, err := c.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals returned %T", out[0])
	}
	return d, nil
}

func (c *Chain) DomainSeparator(ctx context.Context, token common.Address) ([]byte, error) {
	out, err := c.call(ctx, token, "DOMAIN_SEPARATOR")
	if err != nil {
		return nil, err
	}
	h, ok := out[0].([32]byte)
	if !ok {
		return nil, errors.Errorf("DOMAIN_SEPARATOR returned %T", out[0])
	}
	return h[:], nil
}

func (c *Chain) Sender() common.Address { return c.sender }

// FeeQuote returns the current base fee and the caps the next write would use.
func (c *Chain) FeeQuote(ctx context.Context) (baseFee, tip, feeCap *big.Int, err error) {
	baseFee, _, err = latestBaseFee(ctx, c.ec)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "base fee")
	}
	tip, feeCap, err = c.fees.caps(ctx, c.ec)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "fee caps")
	}
	return baseFee, tip, feeCap, nil
}

func (c *Chain) Permit(ctx context.Context, token common.Address, p PermitCall) (*Receipt, error) {
	return c.transact(ctx, token, "permit", p.Owner, p.Spender, p.Value, p.Deadline, p.V, p.R, p.S)
}

func (c *Chain) TransferFrom(ctx context.Context, token, from, to common.Address, value *big.Int) (*Receipt, error) {
	return c.transact(ctx, token, "transferFrom", from, to, value)
}

// approvalEntry mirrors the executeApproval tuple; field names follow the ABI components.
type approvalEntry struct {
	Token     common.Address
	Spender   common.Address
	Amount    *big.Int
	Deadline  *big.Int
	Unlimited bool
}

func (c *Chain) ExecuteApproval(ctx context.Context, contract, owner common.Address, perms []permit.Permission, sig []byte) (*Receipt, error) {
	if _, ok := c.abi.Methods["executeApproval"]; !ok {
		return nil, errors.New("abi has no executeApproval method")
	}
	entries := make([]approvalEntry, 0, len(perms))
	for _, p := range perms {
		entries = append(entries, approvalEntry{
			Token:     p.Token,
			Spender:   p.Spender,
			Amount:    new(big.Int).Set(p.Amount),
			Deadline:  new(big.Int).SetUint64(p.Deadline),
			Unlimited: p.Unlimited,
		})
	}
	return c.transact(ctx, contract, "executeApproval", owner, entries, sig)
}

// transact estimates, signs, sends and waits for one call. Writes are never retried:
// a resend could double-submit.
func (c *Chain) transact(ctx context.Context, to common.Address, method string, args ...interface{}) (*Receipt, error) {
	if c.key == nil {
		return nil, &SubmitError{Method: method, Err: errors.New("ledger is read-only: no sender key")}
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &SubmitError{Method: method, Err: errors.Wrapf(err, "pack %s", method)}
	}

	c.sendMu.Lock()
	tx, err := c.buildAndSend(ctx, to, method, data)
	c.sendMu.Unlock()
	if err != nil {
		return nil, err
	}
	c.log.Info("transaction sent",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)

	rcpt, err := bind.WaitMined(ctx, c.ec, tx)
	if err != nil {
		return nil, &PendingError{Method: method, TxHash: tx.Hash(), Err: err}
	}
	out := &Receipt{TxHash: tx.Hash(), GasUsed: rcpt.GasUsed}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, &RevertError{Method: method, Reason: "execution reverted", TxHash: tx.Hash()}
	}
	return out, nil
}

// buildAndSend returns a *SubmitError for every failure that leaves nothing in the
// mempool. Only a send error the node did not clearly refuse is ambiguous.
func (c *Chain) buildAndSend(ctx context.Context, to common.Address, method string, data []byte) (*types.Transaction, error) {
	notSent := func(err error, msg string) error {
		return &SubmitError{Method: method, Err: errors.Wrap(err, msg)}
	}
	est, err := estimateGasWithRetry(ctx, c.ec, ethereum.CallMsg{From: c.sender, To: &to, Data: data, Value: big.NewInt(0)})
	if err != nil {
		if isRevert(err) {
			return nil, &RevertError{Method: method, Reason: revertReason(err), Err: err}
		}
		return nil, notSent(err, "estimate gas")
	}
	tip, feeCap, err := c.fees.caps(ctx, c.ec)
	if err != nil {
		return nil, notSent(err, "fee caps")
	}
	nonce, err := c.ec.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, notSent(err, "sender nonce")
	}
	c.log.Debug("prepared transaction",
		zap.String("method", method),
		zap.Uint64("gas_estimate", est),
		zap.String("tip", tip.String()),
		zap.String("fee_cap", feeCap.String()),
	)
	tx := buildDynamicTx(c.chainID, nonce, &to, big.NewInt(0), c.fees.gasLimit(est), tip, feeCap, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, notSent(err, "sign tx")
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		if isSendRefused(err) {
			return nil, notSent(err, "send")
		}
		return nil, &PendingError{Method: method, TxHash: signed.Hash(), Err: errors.Wrap(err, "send")}
	}
	return signed, nil
}

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chain,
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int).Set(value),
		Data:      data,
	})
}
