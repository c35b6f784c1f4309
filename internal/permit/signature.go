package permit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is the (v, r, s) form expected by permit(). V is 27 or 28.
type Signature struct {
	V uint8
	R common.Hash
	S common.Hash
}

// SplitSignature decodes a 65-byte r||s||v signature. v may be 0/1 or 27/28;
// high-s (malleable) signatures are rejected.
func SplitSignature(sig []byte) (Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return Signature{}, &Error{Kind: KindMalformedSignature,
			Reason: fmt.Sprintf("signature length %d, want %d", len(sig), crypto.SignatureLength)}
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return Signature{}, &Error{Kind: KindMalformedSignature, Reason: fmt.Sprintf("invalid recovery id %d", sig[64])}
	}
	out := Signature{V: v, R: common.BytesToHash(sig[:32]), S: common.BytesToHash(sig[32:64])}
	r, s := new(big.Int).SetBytes(out.R[:]), new(big.Int).SetBytes(out.S[:])
	if !crypto.ValidateSignatureValues(v-27, r, s, true) {
		return Signature{}, &Error{Kind: KindMalformedSignature, Reason: "r/s out of range"}
	}
	return out, nil
}

// ParseSignature decodes a 0x-prefixed hex signature.
func ParseSignature(s string) (Signature, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Signature{}, &Error{Kind: KindMalformedSignature, Reason: "hex decode", Err: err}
	}
	return SplitSignature(b)
}

// Join returns r||s||v with v in {27, 28}.
func (s Signature) Join() []byte {
	out := make([]byte, 0, crypto.SignatureLength)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

// Raw returns r||s||v with v in {0, 1}, the form go-ethereum's crypto package uses.
func (s Signature) Raw() []byte {
	out := s.Join()
	out[64] -= 27
	return out
}

func (s Signature) Hex() string { return hexutil.Encode(s.Join()) }
