package envelope

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings; the
// Error() text is for humans and may evolve.
type Kind string

const (
	// KindTruncated reports input that ends before the framing says it should.
	KindTruncated Kind = "Truncated"
	// KindMsgType reports an unknown or out-of-place message type.
	KindMsgType Kind = "MsgType"
	// KindSignature reports a missing or failed signature check.
	KindSignature Kind = "Signature"
	// KindCrypto reports a sealing/opening failure.
	KindCrypto Kind = "Crypto"
	// KindEncode reports an envelope that cannot be rendered to wire form.
	KindEncode Kind = "Encode"
)

// Error is the package's structured error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "envelope: " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
