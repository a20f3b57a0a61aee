package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// PublisherKeyString encodes an Ed25519 public key in the channel key string
// form "ed25519:<base64>".
func PublisherKeyString(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub), nil
}

// ParsePublisherKeyString decodes the "ed25519:<base64>" key string form.
func ParsePublisherKeyString(s string) (PublisherID, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok || alg != "ed25519" {
		return PublisherID{}, fmt.Errorf("invalid publisher key encoding")
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return PublisherID{}, fmt.Errorf("invalid publisher key base64: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return PublisherID{}, fmt.Errorf("invalid ed25519 public key length")
	}
	var p PublisherID
	copy(p[:], b)
	return p, nil
}
