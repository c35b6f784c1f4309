package permit

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// State tracks one authorization:
// Built -> Signed -> PermissionRegistered -> Transferred, or Rejected / Expired / Inconclusive.
type State int

const (
	StateBuilt State = iota
	StateSigned
	StatePermissionRegistered
	StateTransferred
	StateRejected
	StateExpired
	StateInconclusive
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSigned:
		return "signed"
	case StatePermissionRegistered:
		return "permission_registered"
	case StateTransferred:
		return "transferred"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	case StateInconclusive:
		return "inconclusive"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateTransferred, StateRejected, StateExpired:
		return true
	}
	return false
}

// SignedAuthorization carries a one-time redemption right and nothing more.
type SignedAuthorization struct {
	Domain    Domain
	Message   Message
	Signature []byte
}

// NewSignedAuthorization normalises sig to v in {27,28} and checks it recovers to the owner.
func NewSignedAuthorization(d Domain, msg Message, sig []byte) (*SignedAuthorization, error) {
	parts, err := SplitSignature(sig)
	if err != nil {
		return nil, err
	}
	signer, err := Recover(d, msg, parts.Join())
	if err != nil {
		return nil, err
	}
	if signer != msg.Account() {
		return nil, &Error{Kind: KindMalformedSignature, Phase: "sign",
			Reason: "signature recovers to " + signer.Hex() + ", not owner " + msg.Account().Hex()}
	}
	return &SignedAuthorization{Domain: d, Message: msg, Signature: parts.Join()}, nil
}

// Split returns the (v, r, s) parts of the signature.
func (s *SignedAuthorization) Split() (Signature, error) { return SplitSignature(s.Signature) }

func (s *SignedAuthorization) SignatureHex() string { return hexutil.Encode(s.Signature) }

// Expired reports whether the message can no longer be redeemed at now.
func (s *SignedAuthorization) Expired(now time.Time) bool {
	return IsExpired(s.Message.Expiry(), now)
}

// Transfer returns the Permit message, or nil for other kinds.
func (s *SignedAuthorization) Transfer() *TransferAuthorization {
	t, _ := s.Message.(*TransferAuthorization)
	return t
}

// Batch returns the Approval message, or nil for other kinds.
func (s *SignedAuthorization) Batch() *PermissionBatch {
	b, _ := s.Message.(*PermissionBatch)
	return b
}
