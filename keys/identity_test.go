package keys

import (
	"strings"
	"testing"
)

func testSeed(fill byte) []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = fill
	}
	return seed
}

func TestNewIdentityDeterministic(t *testing.T) {
	a, err := NewIdentity(testSeed(0x42))
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	b, err := NewIdentity(testSeed(0x42))
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if a.PublisherID() != b.PublisherID() {
		t.Fatalf("expected deterministic publisher id")
	}
	if a.ExchangeKey() != b.ExchangeKey() {
		t.Fatalf("expected deterministic exchange key")
	}

	c, err := NewIdentity(testSeed(0x43))
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if a.PublisherID() == c.PublisherID() {
		t.Fatalf("expected different seeds to derive different identities")
	}
}

func TestNewIdentityRejectsBadSeed(t *testing.T) {
	if _, err := NewIdentity(make([]byte, 16)); err == nil {
		t.Fatalf("expected error for short seed")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := NewIdentity(testSeed(0x11))
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	msg := []byte("channel message bytes")
	sig := id.Sign(msg)
	if !Verify(id.PublisherID(), msg, sig) {
		t.Fatalf("signature did not verify")
	}

	sig[0] ^= 0x01
	if Verify(id.PublisherID(), msg, sig) {
		t.Fatalf("tampered signature verified")
	}
	sig[0] ^= 0x01
	if Verify(id.PublisherID(), []byte("other"), sig) {
		t.Fatalf("signature verified for wrong message")
	}
}

func TestDeriveExchangeSeedIndependentOfSigning(t *testing.T) {
	root := testSeed(0x05)
	exch, err := DeriveExchangeSeed(root)
	if err != nil {
		t.Fatalf("DeriveExchangeSeed: %v", err)
	}
	if string(exch) == string(root) {
		t.Fatalf("exchange seed must differ from root seed")
	}
	again, err := DeriveExchangeSeed(root)
	if err != nil {
		t.Fatalf("DeriveExchangeSeed: %v", err)
	}
	if string(exch) != string(again) {
		t.Fatalf("expected deterministic exchange seed")
	}
}

func TestPublisherKeyStringRoundTrip(t *testing.T) {
	id, err := NewIdentity(testSeed(0x21))
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	s, err := PublisherKeyString(id.PublicKey())
	if err != nil {
		t.Fatalf("PublisherKeyString: %v", err)
	}
	if !strings.HasPrefix(s, "ed25519:") {
		t.Fatalf("expected ed25519 prefix, got %q", s)
	}
	got, err := ParsePublisherKeyString(s)
	if err != nil {
		t.Fatalf("ParsePublisherKeyString: %v", err)
	}
	if got != id.PublisherID() {
		t.Fatalf("round trip mismatch")
	}
}

func TestKeyStoreRoundTrip(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKeyStore: %v", err)
	}
	id, path, err := ks.Init("author", testSeed(0x33), false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if path == "" {
		t.Fatalf("expected seed file path")
	}

	loaded, err := ks.Load("author")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PublisherID() != id.PublisherID() {
		t.Fatalf("loaded identity mismatch")
	}

	if _, _, err := ks.Init("author", testSeed(0x34), false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "author" {
		t.Fatalf("unexpected listing: %v", names)
	}
}
