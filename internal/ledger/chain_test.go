package ledger

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/permit-kit/internal/permit"
)

// ethStub answers eth_chainId and eth_call for a single token.
type ethStub struct {
	t        *testing.T
	failures int // eth_call errors before the first success
	calls    int
}

func (s *ethStub) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(31337)) }

func (s *ethStub) Call(args map[string]interface{}, _ string) (hexutil.Bytes, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("429 Too Many Requests")
	}
	raw, _ := args["input"].(string)
	if raw == "" {
		raw, _ = args["data"].(string)
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseABI(DefaultABI)
	if err != nil {
		return nil, err
	}
	m, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "nonces":
		return m.Outputs.Pack(big.NewInt(7))
	case "balanceOf":
		return m.Outputs.Pack(big.NewInt(1_000))
	case "decimals":
		return m.Outputs.Pack(uint8(6))
	case "name":
		return m.Outputs.Pack("Test Token")
	case "DOMAIN_SEPARATOR":
		return m.Outputs.Pack([32]byte{1})
	}
	return nil, errors.New("execution reverted: unsupported")
}

// nodeStub takes a write as far as eth_sendRawTransaction, which answers sendErr.
type nodeStub struct {
	sendErr error
	sends   int
}

func (s *nodeStub) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(31337)) }

func (s *nodeStub) EstimateGas(map[string]interface{}) (hexutil.Uint64, error) { return 60_000, nil }

func (s *nodeStub) GetBlockByNumber(string, bool) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), Difficulty: big.NewInt(0), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (s *nodeStub) GetTransactionCount(common.Address, string) (hexutil.Uint64, error) { return 4, nil }

func (s *nodeStub) SendRawTransaction(hexutil.Bytes) (common.Hash, error) {
	s.sends++
	return common.Hash{}, s.sendErr
}

func newStubChain(t *testing.T, stub interface{}, opts ...ChainOption) *Chain {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", stub))
	t.Cleanup(srv.Stop)
	ec := ethclient.NewClient(rpc.DialInProc(srv))
	t.Cleanup(ec.Close)

	parsed, err := ParseABI(DefaultABI)
	require.NoError(t, err)
	return NewChain(ec, parsed, big.NewInt(31337), opts...)
}

func writerOpts(t *testing.T) []ChainOption {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return []ChainOption{WithSenderKey(key), WithFeePolicy(FeePolicy{TipGwei: 1, BaseMul: 2})}
}

func testPermitCall() PermitCall {
	return PermitCall{
		Owner:    common.HexToAddress("0x000000000000000000000000000000000000bEEF"),
		Spender:  common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66"),
		Value:    big.NewInt(1),
		Deadline: big.NewInt(1_700_000_000),
		V:        27,
	}
}

func TestChainReads(t *testing.T) {
	stub := &ethStub{t: t}
	c := newStubChain(t, stub)
	ctx := context.Background()
	token := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	owner := common.HexToAddress("0x000000000000000000000000000000000000bEEF")

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id.Int64())

	n, err := c.Nonces(ctx, token, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())

	bal, err := c.BalanceOf(ctx, token, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), bal.Int64())

	dec, err := c.Decimals(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), dec)

	name, err := c.TokenName(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Test Token", name)

	sep, err := c.DomainSeparator(ctx, token)
	require.NoError(t, err)
	assert.Len(t, sep, 32)

	_, err = c.Allowance(ctx, token, owner, owner)
	assert.ErrorContains(t, err, "execution reverted")
}

func TestChainReadRetriesRateLimit(t *testing.T) {
	stub := &ethStub{t: t, failures: 2}
	c := newStubChain(t, stub)

	n, err := c.Nonces(context.Background(),
		common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		common.HexToAddress("0x000000000000000000000000000000000000bEEF"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Int64())
	assert.Equal(t, 3, stub.calls)
}

func TestChainWritesNeedKey(t *testing.T) {
	c := newStubChain(t, &ethStub{t: t})
	_, err := c.TransferFrom(context.Background(), common.Address{}, common.Address{}, common.Address{}, big.NewInt(1))
	assert.ErrorContains(t, err, "read-only")
	var sub *SubmitError
	assert.True(t, errors.As(err, &sub))
}

func TestChainWriteFailsBeforeBroadcast(t *testing.T) {
	token := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

	t.Run("gas estimation unavailable", func(t *testing.T) {
		c := newStubChain(t, &ethStub{t: t}, writerOpts(t)...)
		_, err := c.Permit(context.Background(), token, testPermitCall())
		var sub *SubmitError
		require.True(t, errors.As(err, &sub), "got %v", err)
		assert.Equal(t, "permit", sub.Method)
		var pend *PendingError
		assert.False(t, errors.As(err, &pend))
	})

	t.Run("node refuses the transaction", func(t *testing.T) {
		node := &nodeStub{sendErr: errors.New("insufficient funds for gas * price + value")}
		c := newStubChain(t, node, writerOpts(t)...)
		_, err := c.Permit(context.Background(), token, testPermitCall())
		var sub *SubmitError
		require.True(t, errors.As(err, &sub), "got %v", err)
		assert.Equal(t, 1, node.sends)
	})

	t.Run("ambiguous send stays pending", func(t *testing.T) {
		node := &nodeStub{sendErr: errors.New("connection reset by peer")}
		c := newStubChain(t, node, writerOpts(t)...)
		_, err := c.Permit(context.Background(), token, testPermitCall())
		var pend *PendingError
		require.True(t, errors.As(err, &pend), "got %v", err)
		assert.NotEqual(t, common.Hash{}, pend.TxHash)
		var sub *SubmitError
		assert.False(t, errors.As(err, &sub))
	})
}

func TestParseABI(t *testing.T) {
	_, err := ParseABI(`[{"type":"function","name":"nonces","inputs":[{"name":"o","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`)
	assert.ErrorContains(t, err, "missing method")

	_, err = ParseABI("not json")
	assert.Error(t, err)

	parsed, err := LoadABI("")
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "executeApproval")

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(DefaultABI), 0o600))
	_, err = LoadABI(path)
	require.NoError(t, err)

	_, err = LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestExecuteApprovalPacks(t *testing.T) {
	parsed, err := LoadABI("")
	require.NoError(t, err)
	entries := []approvalEntry{{
		Token:     common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Spender:   common.HexToAddress("0x000000000000000000000000000000000000bEEF"),
		Amount:    permit.MaxUint256(),
		Deadline:  big.NewInt(1_700_000_000),
		Unlimited: true,
	}}
	data, err := parsed.Pack("executeApproval", common.Address{1}, entries, make([]byte, 65))
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["executeApproval"].ID, data[:4])
}

func TestRevertAndPendingErrors(t *testing.T) {
	pre := &RevertError{Method: "permit", Reason: "expired"}
	assert.False(t, pre.Submitted())
	assert.Equal(t, "permit reverted: expired", pre.Error())

	mined := &RevertError{Method: "transferFrom", TxHash: common.HexToHash("0x02")}
	assert.True(t, mined.Submitted())

	inner := context.DeadlineExceeded
	pend := &PendingError{Method: "permit", TxHash: common.HexToHash("0x03"), Err: inner}
	assert.ErrorIs(t, pend, context.DeadlineExceeded)
}
