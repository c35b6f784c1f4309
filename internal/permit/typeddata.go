package permit

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedData assembles the eth_signTypedData_v4 payload for msg under d.
func TypedData(d Domain, msg Message) apitypes.TypedData {
	types := msg.Types()
	types["EIP712Domain"] = d.domainType()
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: msg.PrimaryType(),
		Domain:      d.typedDomain(),
		Message:     msg.Data(),
	}
}

// Digest is keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func Digest(d Domain, msg Message) (common.Hash, error) {
	if msg == nil {
		return common.Hash{}, invalidf("nil message")
	}
	return HashTypedData(TypedData(d, msg))
}

// HashTypedData computes the EIP-712 digest of an assembled payload.
func HashTypedData(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	dataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash %s: %w", td.PrimaryType, err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, dataHash...)
	return crypto.Keccak256Hash(raw), nil
}

// Recover returns the address that produced sig over msg under d.
func Recover(d Domain, msg Message, sig []byte) (common.Address, error) {
	parts, err := SplitSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := Digest(d, msg)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), parts.Raw())
	if err != nil {
		return common.Address{}, &Error{Kind: KindMalformedSignature, Reason: "recover public key", Err: err}
	}
	return crypto.PubkeyToAddress(*pub), nil
}
