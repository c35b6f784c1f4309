package permit

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide between rebuild, re-prompt and poll.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParameter
	KindUserRejected
	KindSignerError
	KindMalformedSignature
	KindPermissionRejected
	KindTransferRejected
	KindBatchRejected
	KindExpired
	KindInconclusive
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindUserRejected:
		return "user_rejected"
	case KindSignerError:
		return "signer_error"
	case KindMalformedSignature:
		return "malformed_signature"
	case KindPermissionRejected:
		return "permission_rejected"
	case KindTransferRejected:
		return "transfer_rejected"
	case KindBatchRejected:
		return "batch_rejected"
	case KindExpired:
		return "expired"
	case KindInconclusive:
		return "inconclusive"
	case KindNetwork:
		return "network_error"
	}
	return "unknown"
}

// Sentinels for errors.Is matching against *Error values.
var (
	ErrInvalidParameter   = &Error{Kind: KindInvalidParameter}
	ErrUserRejected       = &Error{Kind: KindUserRejected}
	ErrSignerError        = &Error{Kind: KindSignerError}
	ErrMalformedSignature = &Error{Kind: KindMalformedSignature}
	ErrPermissionRejected = &Error{Kind: KindPermissionRejected}
	ErrTransferRejected   = &Error{Kind: KindTransferRejected}
	ErrBatchRejected      = &Error{Kind: KindBatchRejected}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrInconclusive       = &Error{Kind: KindInconclusive}
	ErrNetwork            = &Error{Kind: KindNetwork}
)

// Error is the structured failure returned at the package boundaries.
type Error struct {
	Kind   Kind
	Phase  string // "build", "sign", "permit", "transfer", "approval"
	Reason string // revert reason or validation message
	TxHash string // set once something was submitted on-chain
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Phase != "" {
		b.WriteString(" [" + e.Phase + "]")
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.TxHash != "" {
		b.WriteString(" (tx " + e.TxHash + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind only, so sentinels compare equal to any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retriable reports whether the same request may be repeated as-is.
// Rejected redemptions need a fresh nonce/deadline, and Inconclusive needs polling first.
// A Network failure never reached the mempool.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindUserRejected, KindSignerError, KindNetwork:
		return true
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func invalidf(format string, a ...any) error {
	return &Error{Kind: KindInvalidParameter, Phase: "build", Reason: fmt.Sprintf(format, a...)}
}

// Invalidf builds an InvalidParameter error outside the build phase.
func Invalidf(phase, format string, a ...any) error {
	return &Error{Kind: KindInvalidParameter, Phase: phase, Reason: fmt.Sprintf(format, a...)}
}
