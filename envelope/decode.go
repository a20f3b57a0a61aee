package envelope

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/tanglechan/tanglechan/address"
)

type reader struct {
	b   []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.b)-r.off < n {
		return nil, newError(KindTruncated, fmt.Sprintf("need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off))
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Decode parses canonical wire bytes into an envelope. Decode failures are
// always local and non-retryable. The returned envelope remembers the raw
// bytes so Verify checks exactly what was received.
func Decode(raw []byte) (*Envelope, error) {
	r := &reader{b: raw}

	magic, err := r.take(len(envelopeVersion))
	if err != nil {
		return nil, err
	}
	if string(magic) != envelopeVersion {
		return nil, newError(KindTruncated, "bad magic")
	}

	e := &Envelope{raw: raw}

	t, err := r.u8()
	if err != nil {
		return nil, err
	}
	e.Type = MsgType(t)
	if !e.Type.valid() {
		return nil, newError(KindMsgType, fmt.Sprintf("unknown message type %d", t))
	}

	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	if flags&^flagSigned != 0 {
		return nil, newError(KindTruncated, fmt.Sprintf("unknown flags %#x", flags))
	}
	if (flags&flagSigned != 0) != e.Type.signed() {
		return nil, newError(KindMsgType, fmt.Sprintf("signature flag does not match %s", e.Type))
	}

	pub, err := r.take(len(e.Publisher))
	if err != nil {
		return nil, err
	}
	copy(e.Publisher[:], pub)

	if e.Seq, err = r.u64(); err != nil {
		return nil, err
	}

	prevCount, err := r.u8()
	if err != nil {
		return nil, err
	}
	if int(prevCount) > MaxPrevLinks {
		return nil, newError(KindTruncated, fmt.Sprintf("%d previous links exceeds maximum %d", prevCount, MaxPrevLinks))
	}
	for i := 0; i < int(prevCount); i++ {
		var l address.Link
		b, err := r.take(2 * address.IDSize)
		if err != nil {
			return nil, err
		}
		copy(l.Channel[:], b[:address.IDSize])
		copy(l.Msg[:], b[address.IDSize:])
		e.Prev = append(e.Prev, l)
	}

	if e.Public, err = r.payload(); err != nil {
		return nil, err
	}
	if e.Masked, err = r.payload(); err != nil {
		return nil, err
	}
	e.sealed = len(e.Masked) > 0

	if e.Type == Keyload {
		wrapCount, err := r.u8()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(wrapCount); i++ {
			w, err := r.wrapBlock()
			if err != nil {
				return nil, err
			}
			e.Wraps = append(e.Wraps, w)
		}
	}

	if flags&flagSigned != 0 {
		sig, err := r.take(ed25519.SignatureSize)
		if err != nil {
			return nil, err
		}
		e.Sig = sig
	}

	if r.off != len(raw) {
		return nil, newError(KindTruncated, fmt.Sprintf("%d trailing bytes", len(raw)-r.off))
	}
	return e, nil
}

func (r *reader) payload() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n > MaxPayload {
		return nil, newError(KindTruncated, "payload length exceeds maximum")
	}
	if n == 0 {
		return nil, nil
	}
	return r.take(int(n))
}

func (r *reader) wrapBlock() (WrapBlock, error) {
	var w WrapBlock
	var err error
	if w.Kind, err = r.u8(); err != nil {
		return w, err
	}
	idLen, err := r.u8()
	if err != nil {
		return w, err
	}
	if w.ID, err = r.take(int(idLen)); err != nil {
		return w, err
	}
	encLen, err := r.u16()
	if err != nil {
		return w, err
	}
	if w.Enc, err = r.take(int(encLen)); err != nil {
		return w, err
	}
	sealedLen, err := r.u16()
	if err != nil {
		return w, err
	}
	if w.Sealed, err = r.take(int(sealedLen)); err != nil {
		return w, err
	}
	return w, nil
}
