// Package testkit provides the conformance suite every ledger backend's
// tests run.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/ledger"
)

// NewLedger constructs a fresh, empty ledger instance for a test.
// The returned ledger MUST be isolated from other tests.
type NewLedger func(t *testing.T) ledger.Ledger

func testLink(fill byte) address.Link {
	var l address.Link
	for i := range l.Channel {
		l.Channel[i] = fill
	}
	for i := range l.Msg {
		l.Msg[i] = fill + 1
	}
	return l
}

// RunLedgerConformance exercises the ledger contract against one backend.
func RunLedgerConformance(t *testing.T, newLedger NewLedger) {
	t.Helper()
	ctx := context.Background()

	t.Run("PublishFetchRoundTrip", func(t *testing.T) {
		led := newLedger(t)
		at := testLink(0x01)
		want := []byte("hello, channel ledger")

		rec, err := led.Publish(ctx, at, want)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		wantID, err := ledger.ContentID(want)
		if err != nil {
			t.Fatalf("ContentID failed: %v", err)
		}
		if !rec.CID.Equals(wantID) {
			t.Fatalf("receipt CID mismatch: got %s want %s", rec.CID, wantID)
		}

		got, err := led.Fetch(ctx, at)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Fetch bytes mismatch")
		}
		if err := ledger.VerifyContent(rec.CID, got); err != nil {
			t.Fatalf("fetched bytes fail integrity check: %v", err)
		}
	})

	t.Run("PublishIdempotentForSameBytes", func(t *testing.T) {
		led := newLedger(t)
		at := testLink(0x02)
		b := []byte("same bytes")

		rec1, err := led.Publish(ctx, at, b)
		if err != nil {
			t.Fatalf("Publish(1) failed: %v", err)
		}
		rec2, err := led.Publish(ctx, at, b)
		if err != nil {
			t.Fatalf("Publish(2) failed: %v", err)
		}
		if !rec1.CID.Equals(rec2.CID) {
			t.Fatalf("Publish not idempotent: %s vs %s", rec1.CID, rec2.CID)
		}
	})

	t.Run("PublishConflictForDifferentBytes", func(t *testing.T) {
		led := newLedger(t)
		at := testLink(0x03)

		if _, err := led.Publish(ctx, at, []byte("first")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		_, err := led.Publish(ctx, at, []byte("second"))
		if !errors.Is(err, ledger.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		got, err := led.Fetch(ctx, at)
		if err != nil || string(got) != "first" {
			t.Fatalf("conflict mutated stored bytes: %q %v", got, err)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		led := newLedger(t)
		at := testLink(0x04)

		if led.Has(ctx, at) {
			t.Fatalf("Has returned true for missing link")
		}
		if _, err := led.Fetch(ctx, at); !ledger.IsNotFound(err) {
			t.Fatalf("Fetch missing: got err=%v want ErrNotFound", err)
		}

		if _, err := led.Publish(ctx, at, []byte("present")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if !led.Has(ctx, at) {
			t.Fatalf("Has returned false after Publish")
		}
	})

	t.Run("RejectUndefinedLink", func(t *testing.T) {
		led := newLedger(t)
		var undef address.Link
		if led.Has(ctx, undef) {
			t.Fatalf("Has should be false for the zero link")
		}
		if _, err := led.Fetch(ctx, undef); err == nil {
			t.Fatalf("Fetch should fail for the zero link")
		}
		if _, err := led.Publish(ctx, undef, []byte("x")); err == nil {
			t.Fatalf("Publish should fail for the zero link")
		}
	})
}
