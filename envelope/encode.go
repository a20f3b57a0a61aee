package envelope

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// Encode renders the canonical wire bytes. The layout is fixed:
//
//	magic "TGC1" | type u8 | flags u8 | publisher 32B | seq u64 |
//	prevCount u8 | prev links (64B each) |
//	publicLen u32 | public | maskedLen u32 | masked |
//	wrapCount u8 + wrap blocks (Keyload only) |
//	signature 64B (when signed)
//
// All integers are big-endian. The signature covers every byte before it.
func (e *Envelope) Encode() ([]byte, error) {
	if err := e.checkEncodable(); err != nil {
		return nil, err
	}
	out, err := e.appendUnsigned(nil)
	if err != nil {
		return nil, err
	}
	if len(e.Sig) > 0 {
		out = append(out, e.Sig...)
	}
	return out, nil
}

func (e *Envelope) checkEncodable() error {
	if !e.Type.valid() {
		return newError(KindMsgType, fmt.Sprintf("unencodable message type %d", e.Type))
	}
	if len(e.Prev) > MaxPrevLinks {
		return newError(KindEncode, fmt.Sprintf("%d previous links exceeds maximum %d", len(e.Prev), MaxPrevLinks))
	}
	if len(e.Public) > MaxPayload || len(e.Masked) > MaxPayload {
		return newError(KindEncode, "payload exceeds maximum size")
	}
	if len(e.Wraps) > 0 && e.Type != Keyload {
		return newError(KindEncode, "key-wrap blocks are only valid on keyloads")
	}
	if e.Type.signed() && len(e.Sig) == 0 {
		return newError(KindEncode, fmt.Sprintf("%s must be signed", e.Type))
	}
	if !e.Type.signed() && len(e.Sig) > 0 {
		return newError(KindEncode, fmt.Sprintf("%s does not carry a signature", e.Type))
	}
	if len(e.Sig) > 0 && len(e.Sig) != ed25519.SignatureSize {
		return newError(KindEncode, "signature must be 64 bytes")
	}
	for _, w := range e.Wraps {
		if len(w.ID) > 255 || len(w.Enc) > 65535 || len(w.Sealed) > 65535 {
			return newError(KindEncode, "oversized key-wrap block")
		}
	}
	return nil
}

// associatedData returns the header-through-public prefix bound into the
// AEAD tag of the masked payload.
func (e *Envelope) associatedData() []byte {
	out, _ := e.appendThroughPublic(nil)
	return out
}

// signingBytes returns everything the signature covers.
func (e *Envelope) signingBytes() ([]byte, error) {
	// Decoded envelopes verify against the exact received bytes so a
	// re-encoding quirk can never launder a tampered message.
	if e.raw != nil {
		if len(e.Sig) > 0 {
			return e.raw[:len(e.raw)-ed25519.SignatureSize], nil
		}
		return e.raw, nil
	}
	return e.appendUnsigned(nil)
}

func (e *Envelope) appendThroughPublic(dst []byte) ([]byte, error) {
	dst = append(dst, envelopeVersion...)
	dst = append(dst, byte(e.Type), e.flags())
	dst = append(dst, e.Publisher[:]...)
	dst = binary.BigEndian.AppendUint64(dst, e.Seq)

	dst = append(dst, byte(len(e.Prev)))
	for _, p := range e.Prev {
		dst = append(dst, p.Channel[:]...)
		dst = append(dst, p.Msg[:]...)
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.Public)))
	dst = append(dst, e.Public...)
	return dst, nil
}

func (e *Envelope) appendUnsigned(dst []byte) ([]byte, error) {
	dst, err := e.appendThroughPublic(dst)
	if err != nil {
		return nil, err
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.Masked)))
	dst = append(dst, e.Masked...)

	if e.Type == Keyload {
		dst = append(dst, byte(len(e.Wraps)))
		for _, w := range e.Wraps {
			dst = append(dst, w.Kind, byte(len(w.ID)))
			dst = append(dst, w.ID...)
			dst = binary.BigEndian.AppendUint16(dst, uint16(len(w.Enc)))
			dst = append(dst, w.Enc...)
			dst = binary.BigEndian.AppendUint16(dst, uint16(len(w.Sealed)))
			dst = append(dst, w.Sealed...)
		}
	}
	return dst, nil
}

func (e *Envelope) flags() uint8 {
	var f uint8
	if e.Type.signed() {
		f |= flagSigned
	}
	return f
}
