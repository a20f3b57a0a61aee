// Package keyload manages branch access control: generating branch session
// keys and wrapping them for a chosen set of recipients.
//
// Every wrapped copy travels in one envelope.WrapBlock. Recipients with an
// exchange keypair get an HPKE encapsulation; recipients holding a
// pre-shared key get a symmetric wrap. Processing a keyload means trying
// each block until one unwraps; none unwrapping is the normal "not addressed
// to me" outcome, not an error.
package keyload

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/keys"
)

// SessionKeySize matches the envelope AEAD key size.
const SessionKeySize = envelope.SessionKeySize

// PSKIDSize is the byte length of a pre-shared key identifier.
const PSKIDSize = 16

// PSKID identifies a pre-shared key.
type PSKID [PSKIDSize]byte

// PSK is an out-of-band shared secret usable in place of subscription.
type PSK struct {
	ID     PSKID
	Secret [SessionKeySize]byte
}

// SessionKey is one branch's symmetric key.
type SessionKey = [SessionKeySize]byte

// ErrEmptyKeyload reports a keyload build with no recipients at all.
var ErrEmptyKeyload = errors.New("keyload: no recipients and no pre-shared keys")

const (
	hpkeInfo       = "tanglechan/v1 keyload"
	pskWrapContext = "tanglechan/v1 psk wrap"
)

var suite = hpke.NewSuite(keys.KEM, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// NewSessionKey draws a fresh random branch session key.
func NewSessionKey() (SessionKey, error) {
	var k SessionKey
	if _, err := rand.Read(k[:]); err != nil {
		return SessionKey{}, err
	}
	return k, nil
}

// Wrap produces one wrap block per recipient exchange key and per PSK.
// At least one of the two sets must be non-empty.
func Wrap(session SessionKey, recipients []keys.ExchangeKey, psks []PSK) ([]envelope.WrapBlock, error) {
	if len(recipients) == 0 && len(psks) == 0 {
		return nil, ErrEmptyKeyload
	}

	blocks := make([]envelope.WrapBlock, 0, len(recipients)+len(psks))
	for _, r := range recipients {
		b, err := wrapExchange(session, r)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	for _, p := range psks {
		b, err := wrapPSK(session, p)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func wrapExchange(session SessionKey, recipient keys.ExchangeKey) (envelope.WrapBlock, error) {
	pk, err := keys.UnmarshalExchangeKey(recipient)
	if err != nil {
		return envelope.WrapBlock{}, fmt.Errorf("keyload: bad recipient exchange key: %w", err)
	}
	sender, err := suite.NewSender(pk, []byte(hpkeInfo))
	if err != nil {
		return envelope.WrapBlock{}, fmt.Errorf("keyload: hpke sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return envelope.WrapBlock{}, fmt.Errorf("keyload: hpke setup: %w", err)
	}
	ct, err := sealer.Seal(session[:], recipient[:])
	if err != nil {
		return envelope.WrapBlock{}, fmt.Errorf("keyload: hpke seal: %w", err)
	}
	return envelope.WrapBlock{
		Kind:   envelope.WrapExchange,
		ID:     append([]byte(nil), recipient[:]...),
		Enc:    enc,
		Sealed: ct,
	}, nil
}

func wrapPSK(session SessionKey, psk PSK) (envelope.WrapBlock, error) {
	aead, err := chacha20poly1305.New(derivePSKWrapKey(psk.Secret))
	if err != nil {
		return envelope.WrapBlock{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return envelope.WrapBlock{}, err
	}
	ct := aead.Seal(nil, nonce, session[:], psk.ID[:])
	return envelope.WrapBlock{
		Kind:   envelope.WrapPSK,
		ID:     append([]byte(nil), psk.ID[:]...),
		Enc:    nonce,
		Sealed: ct,
	}, nil
}

// Unwrap tries every wrap block against the local identity's exchange key
// and each known PSK. The boolean reports whether any block unwrapped; false
// with a nil error means the keyload is not addressed to this identity.
func Unwrap(blocks []envelope.WrapBlock, id *keys.Identity, psks map[PSKID]SessionKey) (SessionKey, bool, error) {
	exch := id.ExchangeKey()
	for _, b := range blocks {
		switch b.Kind {
		case envelope.WrapExchange:
			if string(b.ID) != string(exch[:]) {
				continue
			}
			k, err := unwrapExchange(b, id, exch)
			if err != nil {
				// An addressed block that fails to open is a real fault,
				// not a "wrong recipient" miss.
				return SessionKey{}, false, err
			}
			return k, true, nil
		case envelope.WrapPSK:
			if len(b.ID) != PSKIDSize {
				continue
			}
			var pskID PSKID
			copy(pskID[:], b.ID)
			secret, known := psks[pskID]
			if !known {
				continue
			}
			k, err := unwrapPSK(b, pskID, secret)
			if err != nil {
				return SessionKey{}, false, err
			}
			return k, true, nil
		}
	}
	return SessionKey{}, false, nil
}

func unwrapExchange(b envelope.WrapBlock, id *keys.Identity, exch keys.ExchangeKey) (SessionKey, error) {
	recv, err := suite.NewReceiver(id.KEMPrivate(), []byte(hpkeInfo))
	if err != nil {
		return SessionKey{}, fmt.Errorf("keyload: hpke receiver: %w", err)
	}
	opener, err := recv.Setup(b.Enc)
	if err != nil {
		return SessionKey{}, fmt.Errorf("keyload: hpke setup: %w", err)
	}
	pt, err := opener.Open(b.Sealed, exch[:])
	if err != nil {
		return SessionKey{}, fmt.Errorf("keyload: hpke open: %w", err)
	}
	return toSessionKey(pt)
}

func unwrapPSK(b envelope.WrapBlock, id PSKID, secret SessionKey) (SessionKey, error) {
	if len(b.Enc) != chacha20poly1305.NonceSize {
		return SessionKey{}, fmt.Errorf("keyload: bad psk wrap nonce length %d", len(b.Enc))
	}
	aead, err := chacha20poly1305.New(derivePSKWrapKey(secret))
	if err != nil {
		return SessionKey{}, err
	}
	pt, err := aead.Open(nil, b.Enc, b.Sealed, id[:])
	if err != nil {
		return SessionKey{}, fmt.Errorf("keyload: psk wrap did not open: %w", err)
	}
	return toSessionKey(pt)
}

func derivePSKWrapKey(secret SessionKey) []byte {
	out := make([]byte, chacha20poly1305.KeySize)
	blake3.DeriveKey(pskWrapContext, secret[:], out)
	return out
}

// DerivePSKID derives a stable identifier for a pre-shared secret so both
// sides of an out-of-band exchange agree on the id without sending it.
func DerivePSKID(secret [SessionKeySize]byte) PSKID {
	out := make([]byte, PSKIDSize)
	blake3.DeriveKey("tanglechan/v1 psk id", secret[:], out)
	var id PSKID
	copy(id[:], out)
	return id
}

func toSessionKey(pt []byte) (SessionKey, error) {
	if len(pt) != SessionKeySize {
		return SessionKey{}, fmt.Errorf("keyload: wrapped key has length %d, want %d", len(pt), SessionKeySize)
	}
	var k SessionKey
	copy(k[:], pt)
	return k, nil
}
