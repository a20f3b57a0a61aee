package keyload

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/tanglechan/tanglechan/keys"
)

func testIdentity(t *testing.T, fill byte) *keys.Identity {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = fill
	}
	id, err := keys.NewIdentity(seed)
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	return id
}

func testPSK(t *testing.T) PSK {
	t.Helper()
	var p PSK
	if _, err := rand.Read(p.Secret[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	p.ID = DerivePSKID(p.Secret)
	return p
}

func TestWrapRejectsEmptyRecipientSet(t *testing.T) {
	session, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	if _, err := Wrap(session, nil, nil); !errors.Is(err, ErrEmptyKeyload) {
		t.Fatalf("expected ErrEmptyKeyload, got %v", err)
	}
}

func TestIncludedRecipientUnwraps(t *testing.T) {
	alice := testIdentity(t, 0x01)
	bob := testIdentity(t, 0x02)

	session, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	blocks, err := Wrap(session, []keys.ExchangeKey{alice.ExchangeKey(), bob.ExchangeKey()}, nil)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 wrap blocks, got %d", len(blocks))
	}

	for _, id := range []*keys.Identity{alice, bob} {
		got, ok, err := Unwrap(blocks, id, nil)
		if err != nil {
			t.Fatalf("Unwrap: %v", err)
		}
		if !ok {
			t.Fatalf("included recipient did not unwrap")
		}
		if got != session {
			t.Fatalf("recovered wrong session key")
		}
	}
}

func TestExcludedRecipientIsSkipped(t *testing.T) {
	alice := testIdentity(t, 0x03)
	eve := testIdentity(t, 0x04)

	session, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	blocks, err := Wrap(session, []keys.ExchangeKey{alice.ExchangeKey()}, nil)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	_, ok, err := Unwrap(blocks, eve, nil)
	if err != nil {
		t.Fatalf("Unwrap must not error for an excluded recipient: %v", err)
	}
	if ok {
		t.Fatalf("excluded recipient unwrapped the session key")
	}
}

func TestPSKHolderUnwraps(t *testing.T) {
	psk := testPSK(t)

	session, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	blocks, err := Wrap(session, nil, []PSK{psk})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	holder := testIdentity(t, 0x06)
	got, ok, err := Unwrap(blocks, holder, map[PSKID]SessionKey{psk.ID: psk.Secret})
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !ok {
		t.Fatalf("psk holder did not unwrap")
	}
	if got != session {
		t.Fatalf("recovered wrong session key")
	}

	other := testPSK(t)
	_, ok, err = Unwrap(blocks, holder, map[PSKID]SessionKey{other.ID: other.Secret})
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if ok {
		t.Fatalf("holder of a different psk unwrapped the session key")
	}
}

func TestTamperedWrapBlockErrors(t *testing.T) {
	alice := testIdentity(t, 0x07)
	session, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	blocks, err := Wrap(session, []keys.ExchangeKey{alice.ExchangeKey()}, nil)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	blocks[0].Sealed[0] ^= 0x01
	if _, _, err := Unwrap(blocks, alice, nil); err == nil {
		t.Fatalf("expected error for tampered addressed block")
	}
}

func TestDerivePSKIDDeterministic(t *testing.T) {
	var secret [SessionKeySize]byte
	secret[0] = 9
	if DerivePSKID(secret) != DerivePSKID(secret) {
		t.Fatalf("expected deterministic psk id")
	}
	var other [SessionKeySize]byte
	other[0] = 10
	if DerivePSKID(secret) == DerivePSKID(other) {
		t.Fatalf("expected different secrets to derive different ids")
	}
}
