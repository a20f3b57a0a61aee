package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// SeedSize is the required identity seed length in bytes.
const SeedSize = ed25519.SeedSize

const exchangeSeedContext = "tanglechan/v1 exchange seed"

// DeriveExchangeSeed deterministically derives the X25519 KEM seed from an
// identity's root seed. Keeping the derivation one-way means a leaked
// exchange seed does not expose the signing key.
func DeriveExchangeSeed(rootSeed []byte) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", SeedSize)
	}
	out := make([]byte, SeedSize)
	blake3.DeriveKey(exchangeSeedContext, rootSeed, out)
	return out, nil
}

// ParseSeedHex decodes a 64-hex-char identity seed, tolerating surrounding
// whitespace and an optional 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}
