package envelope

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tanglechan/tanglechan/keys"
)

// SessionKeySize is the byte length of a branch session key.
const SessionKeySize = chacha20poly1305.KeySize

// Seal encrypts the masked payload in place with the branch session key.
// The header-through-public prefix is bound as AEAD associated data, so a
// receiver that opens the payload has also authenticated the header. The
// wire form of the masked payload is nonce || ciphertext.
//
// Seal must run before Sign: the signature covers the ciphertext bundle.
func (e *Envelope) Seal(key [SessionKeySize]byte) error {
	if e.sealed {
		return newError(KindCrypto, "masked payload already sealed")
	}
	if len(e.Sig) > 0 {
		return newError(KindCrypto, "cannot seal after signing")
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return &Error{Kind: KindCrypto, Message: "aead init", Cause: err}
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return &Error{Kind: KindCrypto, Message: "nonce", Cause: err}
	}
	e.Masked = aead.Seal(nonce, nonce, e.Masked, e.associatedData())
	e.sealed = true
	return nil
}

// Open decrypts the masked payload with the branch session key and returns
// the plaintext. A failed open is the expected outcome for messages outside
// the holder's branches; callers treat it as "not addressed to me", not as a
// fatal error. The envelope itself is left untouched.
func (e *Envelope) Open(key [SessionKeySize]byte) ([]byte, error) {
	if !e.sealed {
		return nil, newError(KindCrypto, "masked payload is not sealed")
	}
	if len(e.Masked) < chacha20poly1305.NonceSize {
		return nil, newError(KindTruncated, "masked payload shorter than nonce")
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Message: "aead init", Cause: err}
	}
	nonce, ct := e.Masked[:chacha20poly1305.NonceSize], e.Masked[chacha20poly1305.NonceSize:]
	pt, err := aead.Open(nil, nonce, ct, e.associatedData())
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Message: "masked payload did not open", Cause: err}
	}
	return pt, nil
}

// Sign signs the envelope with the sender's identity. The publisher field
// must already name the signer.
func (e *Envelope) Sign(id *keys.Identity) error {
	if !e.Type.signed() {
		return newError(KindSignature, fmt.Sprintf("%s does not carry a signature", e.Type))
	}
	if id.PublisherID() != e.Publisher {
		return newError(KindSignature, "publisher field does not match signing identity")
	}
	msg, err := e.signingBytes()
	if err != nil {
		return err
	}
	e.Sig = id.Sign(msg)
	return nil
}

// Verify checks the envelope signature against its publisher field.
// Decoded envelopes are verified against the exact received bytes.
func (e *Envelope) Verify() error {
	if len(e.Sig) == 0 {
		return newError(KindSignature, "envelope is not signed")
	}
	msg, err := e.signingBytes()
	if err != nil {
		return err
	}
	if !keys.Verify(e.Publisher, msg, e.Sig) {
		return newError(KindSignature, "signature invalid")
	}
	return nil
}
