// Package envelope implements the binary message envelope codec.
//
// An envelope frames one channel message: a fixed header (type, publisher,
// sequence, previous links), a public payload, a masked payload (AEAD
// ciphertext once sealed), an optional key-wrap block list (keyloads only)
// and an optional Ed25519 signature.
//
// Canonical processing order on send is assemble, seal, sign; receivers
// verify the signature before attempting decryption so tampering is rejected
// cheaply and without touching key material.
package envelope

import (
	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keys"
)

// MsgType is the closed set of channel message types.
type MsgType uint8

const (
	Announce     MsgType = 1
	Subscribe    MsgType = 2
	Unsubscribe  MsgType = 3
	Keyload      MsgType = 4
	TaggedPacket MsgType = 5
	SignedPacket MsgType = 6
	// Sequence is reserved for explicit sequencing messages. The engine
	// derives next addresses instead of emitting these, but the type is
	// tolerated on decode for interoperability.
	Sequence MsgType = 7
)

func (t MsgType) valid() bool { return t >= Announce && t <= Sequence }

// signed reports whether the type carries a signature on the wire. Signedness
// is a property of the type, not of envelope state: the flags byte is covered
// by both the AEAD associated data and the signature, so it must render
// identically before and after Seal and Sign run.
func (t MsgType) signed() bool {
	switch t {
	case Announce, Subscribe, Unsubscribe, Keyload, SignedPacket:
		return true
	}
	return false
}

func (t MsgType) String() string {
	switch t {
	case Announce:
		return "announce"
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	case Keyload:
		return "keyload"
	case TaggedPacket:
		return "tagged-packet"
	case SignedPacket:
		return "signed-packet"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Wrap block kinds.
const (
	WrapExchange uint8 = 1 // HPKE to a recipient's X25519 exchange key
	WrapPSK      uint8 = 2 // symmetric wrap under a pre-shared key
)

// WrapBlock carries one wrapped copy of a branch session key.
//
// For WrapExchange, ID is the recipient's marshalled exchange public key and
// Enc is the HPKE encapsulation. For WrapPSK, ID is the PSK id and Enc is
// the AEAD nonce.
type WrapBlock struct {
	Kind   uint8
	ID     []byte
	Enc    []byte
	Sealed []byte
}

const (
	envelopeVersion = "TGC1"

	flagSigned uint8 = 1 << 0

	// MaxPrevLinks bounds the previous-link list (0..n only in
	// multi-branch sequencing).
	MaxPrevLinks = 8

	// MaxPayload bounds each payload to keep decode allocations sane.
	MaxPayload = 1 << 24
)

// Envelope is one decoded (or to-be-encoded) channel message.
type Envelope struct {
	Type      MsgType
	Publisher keys.PublisherID
	Seq       uint64
	Prev      []address.Link

	Public []byte
	Masked []byte // plaintext before Seal, nonce||ciphertext after

	Wraps []WrapBlock // Keyload only
	Sig   []byte

	sealed bool
	raw    []byte // canonical bytes as decoded; nil for locally built envelopes
}

// Sealed reports whether the masked payload holds ciphertext.
func (e *Envelope) Sealed() bool { return e.sealed }
