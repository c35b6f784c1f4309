package permit

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenHex   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	spenderHex = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
)

var fixedNow = time.Unix(1_760_000_000, 0)

func testBuilder() *Builder { return &Builder{Now: func() time.Time { return fixedNow }} }

func testKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func testDomain(t *testing.T) Domain {
	t.Helper()
	d, err := NewDomain("USD Coin", "2", big.NewInt(8453), tokenHex)
	require.NoError(t, err)
	return d
}

func signDigest(t *testing.T, key *ecdsa.PrivateKey, d Domain, msg Message) []byte {
	t.Helper()
	digest, err := Digest(d, msg)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func TestNewDomain(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		chainID  *big.Int
		contract string
	}{
		{"empty name", "", big.NewInt(1), tokenHex},
		{"nil chain", "Token", nil, tokenHex},
		{"zero chain", "Token", big.NewInt(0), tokenHex},
		{"negative chain", "Token", big.NewInt(-5), tokenHex},
		{"malformed contract", "Token", big.NewInt(1), "0x1234"},
		{"zero contract", "Token", big.NewInt(1), "0x0000000000000000000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDomain(tt.domain, "1", tt.chainID, tt.contract)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestDomainWithTargetDoesNotMutate(t *testing.T) {
	d := testDomain(t)
	other, err := d.WithTarget(big.NewInt(1), spenderHex)
	require.NoError(t, err)

	assert.Equal(t, int64(8453), d.ChainID.Int64())
	assert.Equal(t, common.HexToAddress(tokenHex), d.VerifyingContract)
	assert.Equal(t, int64(1), other.ChainID.Int64())
	assert.Equal(t, common.HexToAddress(spenderHex), other.VerifyingContract)

	require.NoError(t, d.Check(big.NewInt(8453)))
	assert.ErrorIs(t, d.Check(big.NewInt(1)), ErrInvalidParameter)
	assert.ErrorIs(t, Domain{ChainID: big.NewInt(8453)}.Check(big.NewInt(8453)), ErrInvalidParameter)
}

func TestDomainSeparatorMatchesManualEncoding(t *testing.T) {
	d := testDomain(t)
	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	enc := append([]byte{}, typeHash...)
	enc = append(enc, crypto.Keccak256([]byte("USD Coin"))...)
	enc = append(enc, crypto.Keccak256([]byte("2"))...)
	enc = append(enc, common.LeftPadBytes(big.NewInt(8453).Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(common.HexToAddress(tokenHex).Bytes(), 32)...)
	want := crypto.Keccak256Hash(enc)

	got, err := d.Separator()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ok, err := d.MatchesSeparator(want.Bytes())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermitDigestMatchesManualEncoding(t *testing.T) {
	d := testDomain(t)
	_, owner := testKey(t)
	msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, big.NewInt(1000), big.NewInt(3), uint64(fixedNow.Unix()+3600))
	require.NoError(t, err)

	typeHash := crypto.Keccak256([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	enc := append([]byte{}, typeHash...)
	enc = append(enc, common.LeftPadBytes(owner.Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(common.HexToAddress(spenderHex).Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(big.NewInt(1000).Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(big.NewInt(3).Bytes(), 32)...)
	enc = append(enc, common.LeftPadBytes(big.NewInt(fixedNow.Unix()+3600).Bytes(), 32)...)
	structHash := crypto.Keccak256(enc)
	sep, err := d.Separator()
	require.NoError(t, err)
	want := crypto.Keccak256Hash([]byte{0x19, 0x01}, sep.Bytes(), structHash)

	got, err := Digest(d, msg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuildTransferAuthorizationValidation(t *testing.T) {
	_, owner := testKey(t)
	future := uint64(fixedNow.Unix() + 60)
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name     string
		owner    string
		spender  string
		value    *big.Int
		nonce    *big.Int
		deadline uint64
	}{
		{"malformed owner", "not-an-address", spenderHex, big.NewInt(1), big.NewInt(0), future},
		{"malformed spender", owner.Hex(), "0xabc", big.NewInt(1), big.NewInt(0), future},
		{"owner is spender", owner.Hex(), owner.Hex(), big.NewInt(1), big.NewInt(0), future},
		{"negative value", owner.Hex(), spenderHex, big.NewInt(-1), big.NewInt(0), future},
		{"nil value", owner.Hex(), spenderHex, nil, big.NewInt(0), future},
		{"value over 256 bits", owner.Hex(), spenderHex, tooBig, big.NewInt(0), future},
		{"nil nonce", owner.Hex(), spenderHex, big.NewInt(1), nil, future},
		{"deadline now", owner.Hex(), spenderHex, big.NewInt(1), big.NewInt(0), uint64(fixedNow.Unix())},
		{"deadline past", owner.Hex(), spenderHex, big.NewInt(1), big.NewInt(0), uint64(fixedNow.Unix() - 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testBuilder().BuildTransferAuthorization(tt.owner, tt.spender, tt.value, tt.nonce, tt.deadline)
			require.Error(t, err)
			assert.Equal(t, KindInvalidParameter, KindOf(err))
		})
	}

	t.Run("zero value is allowed", func(t *testing.T) {
		msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, big.NewInt(0), big.NewInt(0), future)
		require.NoError(t, err)
		assert.Equal(t, PrimaryPermit, msg.PrimaryType())
		assert.Equal(t, future, msg.Expiry())
	})

	t.Run("inputs are copied", func(t *testing.T) {
		v := big.NewInt(5)
		msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, v, big.NewInt(0), future)
		require.NoError(t, err)
		v.SetInt64(99)
		assert.Equal(t, int64(5), msg.Value.Int64())
	})
}

func TestBuildPermissionBatch(t *testing.T) {
	_, owner := testKey(t)
	deadline := uint64(fixedNow.Unix() + 600)
	valid := PermissionInput{Token: tokenHex, Spender: spenderHex, Amount: big.NewInt(10), Deadline: deadline}

	t.Run("empty batch", func(t *testing.T) {
		_, err := testBuilder().BuildPermissionBatch(owner.Hex(), nil)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("one malformed entry fails the batch", func(t *testing.T) {
		bad := valid
		bad.Token = "0x12"
		_, err := testBuilder().BuildPermissionBatch(owner.Hex(), []PermissionInput{valid, bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permissions[1].token")
	})

	t.Run("zero amount", func(t *testing.T) {
		bad := valid
		bad.Amount = big.NewInt(0)
		_, err := testBuilder().BuildPermissionBatch(owner.Hex(), []PermissionInput{bad})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("unlimited disabled by default", func(t *testing.T) {
		u := valid
		u.Unlimited = true
		_, err := testBuilder().BuildPermissionBatch(owner.Hex(), []PermissionInput{u}, ConfirmUnlimited())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disabled")
	})

	t.Run("unlimited needs confirmation", func(t *testing.T) {
		b := testBuilder()
		b.AllowUnlimited = true
		u := valid
		u.Unlimited = true
		_, err := b.BuildPermissionBatch(owner.Hex(), []PermissionInput{u})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confirmation")

		batch, err := b.BuildPermissionBatch(owner.Hex(), []PermissionInput{valid, u}, ConfirmUnlimited())
		require.NoError(t, err)
		assert.True(t, batch.HasUnlimited())
		assert.Equal(t, MaxUint256(), batch.Permissions[1].Amount)
	})

	t.Run("expiry is earliest deadline", func(t *testing.T) {
		early := valid
		early.Deadline = deadline - 300
		batch, err := testBuilder().BuildPermissionBatch(owner.Hex(), []PermissionInput{valid, early})
		require.NoError(t, err)
		assert.Equal(t, deadline-300, batch.Expiry())
	})
}

func TestBatchDigestCoversEveryEntry(t *testing.T) {
	d := testDomain(t)
	_, owner := testKey(t)
	deadline := uint64(fixedNow.Unix() + 600)
	in := []PermissionInput{
		{Token: tokenHex, Spender: spenderHex, Amount: big.NewInt(10), Deadline: deadline},
		{Token: tokenHex, Spender: spenderHex, Amount: big.NewInt(20), Deadline: deadline},
	}
	a, err := testBuilder().BuildPermissionBatch(owner.Hex(), in)
	require.NoError(t, err)
	in[1].Amount = big.NewInt(21)
	b, err := testBuilder().BuildPermissionBatch(owner.Hex(), in)
	require.NoError(t, err)

	da, err := Digest(d, a)
	require.NoError(t, err)
	db, err := Digest(d, b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestSplitSignatureRoundTrip(t *testing.T) {
	d := testDomain(t)
	key, owner := testKey(t)
	for nonce := int64(0); nonce < 16; nonce++ {
		msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, big.NewInt(1000+nonce), big.NewInt(nonce), uint64(fixedNow.Unix()+3600))
		require.NoError(t, err)
		sig := signDigest(t, key, d, msg)

		parts, err := SplitSignature(sig)
		require.NoError(t, err)
		assert.Contains(t, []uint8{27, 28}, parts.V)
		assert.Equal(t, sig, parts.Join())

		fromHex, err := ParseSignature(parts.Hex())
		require.NoError(t, err)
		assert.Equal(t, parts, fromHex)
	}
}

func TestSplitSignatureMalformed(t *testing.T) {
	_, err := SplitSignature(make([]byte, 64))
	assert.ErrorIs(t, err, ErrMalformedSignature)

	bad := make([]byte, 65)
	bad[0], bad[32], bad[64] = 1, 1, 5
	_, err = SplitSignature(bad)
	assert.ErrorIs(t, err, ErrMalformedSignature)

	zero := make([]byte, 65)
	zero[64] = 27
	_, err = SplitSignature(zero)
	assert.ErrorIs(t, err, ErrMalformedSignature)

	_, err = ParseSignature("0xzz")
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestSplitSignatureNormalisesRecoveryID(t *testing.T) {
	d := testDomain(t)
	key, owner := testKey(t)
	msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, big.NewInt(1), big.NewInt(0), uint64(fixedNow.Unix()+10))
	require.NoError(t, err)
	sig := signDigest(t, key, d, msg)
	raw := append([]byte{}, sig...)
	raw[64] -= 27

	p1, err := SplitSignature(sig)
	require.NoError(t, err)
	p2, err := SplitSignature(raw)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, raw, p1.Raw())
}

func TestNewSignedAuthorization(t *testing.T) {
	d := testDomain(t)
	key, owner := testKey(t)
	other, _ := testKey(t)
	msg, err := testBuilder().BuildTransferAuthorization(owner.Hex(), spenderHex, big.NewInt(1), big.NewInt(0), uint64(fixedNow.Unix()+10))
	require.NoError(t, err)

	signed, err := NewSignedAuthorization(d, msg, signDigest(t, key, d, msg))
	require.NoError(t, err)
	assert.NotNil(t, signed.Transfer())
	assert.Nil(t, signed.Batch())
	assert.False(t, signed.Expired(fixedNow))
	assert.True(t, signed.Expired(fixedNow.Add(10*time.Second)))

	_, err = NewSignedAuthorization(d, msg, signDigest(t, other, d, msg))
	assert.ErrorIs(t, err, ErrMalformedSignature)

	// a signature under another chain must not verify here
	otherChain, err := d.WithTarget(big.NewInt(1), tokenHex)
	require.NoError(t, err)
	_, err = NewSignedAuthorization(d, msg, signDigest(t, key, otherChain, msg))
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestComputeDeadline(t *testing.T) {
	_, err := ComputeDeadline(fixedNow, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = ComputeDeadline(fixedNow, -3)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	now := time.Now()
	got, err := ComputeDeadline(now, 24)
	require.NoError(t, err)
	assert.InDelta(t, float64(now.Unix()+86400), float64(got), 1)
}

func TestErrorMatching(t *testing.T) {
	err := &Error{Kind: KindPermissionRejected, Phase: "permit", Reason: "invalid nonce", TxHash: "0xabc"}
	assert.ErrorIs(t, err, ErrPermissionRejected)
	assert.NotErrorIs(t, err, ErrTransferRejected)
	assert.False(t, err.Retriable())
	assert.True(t, (&Error{Kind: KindUserRejected}).Retriable())
	assert.Equal(t, "permission_rejected [permit]: invalid nonce (tx 0xabc)", err.Error())

	unsent := &Error{Kind: KindNetwork, Phase: "transfer"}
	assert.ErrorIs(t, unsent, ErrNetwork)
	assert.True(t, unsent.Retriable())
	assert.False(t, (&Error{Kind: KindInconclusive}).Retriable())
	assert.Equal(t, "network_error [transfer]", unsent.Error())

	assert.False(t, StateSigned.Terminal())
	assert.False(t, StateInconclusive.Terminal())
	assert.True(t, StateRejected.Terminal())
}
