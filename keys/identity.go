package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

// ExchangeKeySize is the byte length of a marshalled X25519 KEM public key.
const ExchangeKeySize = 32

// PublisherIDSize is the byte length of a wire publisher id.
const PublisherIDSize = ed25519.PublicKeySize

// KEM is the key-encapsulation mechanism used for branch key wrapping.
// Fixed for the channel protocol's lifetime.
const KEM = hpke.KEM_X25519_HKDF_SHA256

// PublisherID is a participant's wire identity: its Ed25519 public key.
type PublisherID [ed25519.PublicKeySize]byte

// ExchangeKey is a marshalled X25519 KEM public key.
type ExchangeKey [ExchangeKeySize]byte

// Identity holds the keypairs of one channel participant. It is owned by
// exactly one Author or Subscriber instance and is immutable after creation.
type Identity struct {
	seed     []byte
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
	kemPriv  kem.PrivateKey
	kemPub   kem.PublicKey
}

// NewIdentity derives an identity from a 32-byte seed.
func NewIdentity(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	signPriv := ed25519.NewKeyFromSeed(seed)

	kemSeed, err := DeriveExchangeSeed(seed)
	if err != nil {
		return nil, err
	}
	kemPub, kemPriv := KEM.Scheme().DeriveKeyPair(kemSeed)

	id := &Identity{
		seed:     append([]byte(nil), seed...),
		signPriv: signPriv,
		signPub:  signPriv.Public().(ed25519.PublicKey),
		kemPriv:  kemPriv,
		kemPub:   kemPub,
	}
	return id, nil
}

// GenerateIdentity creates an identity from a fresh random seed.
func GenerateIdentity() (*Identity, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewIdentity(seed)
}

// Seed returns a copy of the identity's root seed.
func (id *Identity) Seed() []byte {
	return append([]byte(nil), id.seed...)
}

// PublisherID returns the identity's wire publisher id.
func (id *Identity) PublisherID() PublisherID {
	var p PublisherID
	copy(p[:], id.signPub)
	return p
}

// PublicKey returns the Ed25519 verification key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.signPub
}

// ExchangeKey returns the marshalled KEM public key other participants wrap
// branch session keys to.
func (id *Identity) ExchangeKey() ExchangeKey {
	b, err := id.kemPub.MarshalBinary()
	if err != nil || len(b) != ExchangeKeySize {
		// X25519 public keys always marshal to 32 bytes.
		panic("keys: kem public key marshal")
	}
	var k ExchangeKey
	copy(k[:], b)
	return k
}

// KEMPrivate exposes the decapsulation key for keyload unwrapping.
func (id *Identity) KEMPrivate() kem.PrivateKey {
	return id.kemPriv
}

// Sign signs msg with the identity's Ed25519 key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.signPriv, msg)
}

// Verify checks an Ed25519 signature by a publisher id.
func Verify(publisher PublisherID, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publisher[:], msg, sig)
}

// UnmarshalExchangeKey parses a marshalled KEM public key.
func UnmarshalExchangeKey(k ExchangeKey) (kem.PublicKey, error) {
	return KEM.Scheme().UnmarshalBinaryPublicKey(k[:])
}
