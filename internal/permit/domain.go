package permit

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain scopes a signature to one deployment: (name, version, chainId, contract).
// It is a value; changing network or token means building a new Domain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain validates and builds a domain. Malformed input fails instead of defaulting.
func NewDomain(name, version string, chainID *big.Int, contract string) (Domain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Domain{}, invalidf("domain name is empty")
	}
	d := Domain{Name: name, Version: strings.TrimSpace(version)}
	return d.WithTarget(chainID, contract)
}

// WithTarget returns a copy of d bound to another chain/contract.
func (d Domain) WithTarget(chainID *big.Int, contract string) (Domain, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return Domain{}, invalidf("chain id must be positive")
	}
	addr, err := ParseAddress("verifyingContract", contract)
	if err != nil {
		return Domain{}, err
	}
	d.ChainID = new(big.Int).Set(chainID)
	d.VerifyingContract = addr
	return d, nil
}

// Check verifies d was created for the given network and names a contract.
// The contract itself is where the signature is redeemed, so it is not compared.
func (d Domain) Check(chainID *big.Int) error {
	if d.ChainID == nil || chainID == nil || d.ChainID.Cmp(chainID) != 0 {
		return &Error{Kind: KindInvalidParameter, Phase: "domain",
			Reason: fmt.Sprintf("domain chain %v does not match network %v", d.ChainID, chainID)}
	}
	if d.VerifyingContract == (common.Address{}) {
		return &Error{Kind: KindInvalidParameter, Phase: "domain", Reason: "domain has no verifying contract"}
	}
	return nil
}

func (d Domain) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// domainType lists only the fields present; the EIP712Domain type must match Map().
func (d Domain) domainType() []apitypes.Type {
	out := []apitypes.Type{{Name: "name", Type: "string"}}
	if d.Version != "" {
		out = append(out, apitypes.Type{Name: "version", Type: "string"})
	}
	return append(out,
		apitypes.Type{Name: "chainId", Type: "uint256"},
		apitypes.Type{Name: "verifyingContract", Type: "address"},
	)
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	if d.ChainID == nil {
		return common.Hash{}, invalidf("domain has no chain id")
	}
	td := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": d.domainType()},
		Domain: d.typedDomain(),
	}
	h, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	return common.BytesToHash(h), nil
}

// MatchesSeparator compares d against a separator read from the contract.
func (d Domain) MatchesSeparator(onchain []byte) (bool, error) {
	sep, err := d.Separator()
	if err != nil {
		return false, err
	}
	return bytes.Equal(sep.Bytes(), onchain), nil
}

// ParseAddress accepts a hex account identifier and rejects the zero address.
func ParseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, invalidf("%s: malformed address %q", field, s)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, invalidf("%s: zero address", field)
	}
	return a, nil
}
