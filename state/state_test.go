package state

import (
	"testing"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
)

func testLink(fill byte) address.Link {
	var l address.Link
	for i := range l.Msg {
		l.Msg[i] = fill
	}
	l.Channel[0] = 0xC0
	return l
}

func testPublisher(fill byte) keys.PublisherID {
	var p keys.PublisherID
	p[0] = fill
	return p
}

func TestAdvanceIsContiguousAndMonotonic(t *testing.T) {
	s := New()
	p := testPublisher(1)

	if got := s.NextSeq(p); got != 0 {
		t.Fatalf("fresh cursor NextSeq = %d, want 0", got)
	}
	if !s.Advance(p, testLink(1), 0) {
		t.Fatalf("expected advance at seq 0")
	}
	if !s.Advance(p, testLink(2), 1) {
		t.Fatalf("expected advance at seq 1")
	}

	// Backward and gapped updates are rejected as no-ops.
	if s.Advance(p, testLink(3), 1) {
		t.Fatalf("accepted backward advance")
	}
	if s.Advance(p, testLink(3), 5) {
		t.Fatalf("accepted gapped advance")
	}

	head, ok := s.Head(p)
	if !ok || head != testLink(2) {
		t.Fatalf("head = %v, want link 2", head)
	}
	if got := s.NextSeq(p); got != 2 {
		t.Fatalf("NextSeq = %d, want 2", got)
	}
}

func TestAdvanceRecordsKnownAndTip(t *testing.T) {
	s := New()
	p := testPublisher(2)
	l := testLink(9)

	if s.Knows(l) {
		t.Fatalf("fresh state knows link")
	}
	s.Advance(p, l, 0)
	if !s.Knows(l) {
		t.Fatalf("advanced link not known")
	}
	tip, ok := s.Tip()
	if !ok || tip != l {
		t.Fatalf("tip = %v, want %v", tip, l)
	}
}

func TestPublishersDeterministicOrder(t *testing.T) {
	s := New()
	s.TrackPublisher(testPublisher(3))
	s.TrackPublisher(testPublisher(1))
	s.TrackPublisher(testPublisher(2))

	got := s.Publishers()
	if len(got) != 3 {
		t.Fatalf("expected 3 publishers, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1][0] >= got[i][0] {
			t.Fatalf("publishers not sorted: %v", got)
		}
	}
}

func TestBranchesNewestFirst(t *testing.T) {
	s := New()
	first := &Branch{Root: testLink(1)}
	second := &Branch{Root: testLink(2)}
	s.AddBranch(first)
	s.AddBranch(second)

	got := s.Branches()
	if len(got) != 2 || got[0] != second || got[1] != first {
		t.Fatalf("expected newest-first branch order")
	}
}

func TestSubscriberRegistry(t *testing.T) {
	s := New()
	p := testPublisher(7)
	var exch keys.ExchangeKey
	exch[0] = 0xEE

	if _, ok := s.SubscriberStatus(p); ok {
		t.Fatalf("unknown subscriber reported present")
	}
	s.RegisterSubscriber(p, exch)
	st, ok := s.SubscriberStatus(p)
	if !ok || st != StatusActive {
		t.Fatalf("status = %v, want active", st)
	}
	if subs := s.ActiveSubscribers(); len(subs) != 1 || subs[0] != exch {
		t.Fatalf("active subscribers = %v", subs)
	}

	if !s.UnregisterSubscriber(p) {
		t.Fatalf("unregister failed")
	}
	if subs := s.ActiveSubscribers(); len(subs) != 0 {
		t.Fatalf("unregistered key still active")
	}
	if s.UnregisterSubscriber(testPublisher(8)) {
		t.Fatalf("unregistered an unknown key")
	}
}

func TestPSKRegistry(t *testing.T) {
	s := New()
	var secret keyload.SessionKey
	secret[0] = 1
	id := keyload.DerivePSKID(secret)

	s.StorePSK(id, secret)
	if got := s.PSKs()[id]; got != secret {
		t.Fatalf("psk lookup mismatch")
	}
	list := s.PSKList()
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("psk list mismatch: %v", list)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	p := testPublisher(4)
	s.Advance(p, testLink(1), 0)
	s.Advance(p, testLink(2), 1)

	var exch keys.ExchangeKey
	exch[5] = 5
	s.RegisterSubscriber(testPublisher(5), exch)

	var secret keyload.SessionKey
	secret[1] = 2
	s.StorePSK(keyload.DerivePSKID(secret), secret)

	b := &Branch{
		Root:    testLink(2),
		Pubkeys: map[keys.PublisherID]struct{}{p: {}},
		PSKIDs:  map[keyload.PSKID]struct{}{keyload.DerivePSKID(secret): {}},
	}
	b.Key[0] = 0x44
	s.AddBranch(b)

	data, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := Restore(data)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if got.NextSeq(p) != 2 {
		t.Fatalf("restored NextSeq = %d, want 2", got.NextSeq(p))
	}
	head, ok := got.Head(p)
	if !ok || head != testLink(2) {
		t.Fatalf("restored head mismatch")
	}
	if !got.Knows(testLink(1)) || !got.Knows(testLink(2)) {
		t.Fatalf("restored known set incomplete")
	}
	tip, ok := got.Tip()
	if !ok || tip != testLink(2) {
		t.Fatalf("restored tip mismatch")
	}
	rb, ok := got.Branch(testLink(2))
	if !ok || rb.Key != b.Key {
		t.Fatalf("restored branch mismatch")
	}
	if _, ok := rb.Pubkeys[p]; !ok {
		t.Fatalf("restored branch lost pubkeys")
	}
	if subs := got.ActiveSubscribers(); len(subs) != 1 || subs[0] != exch {
		t.Fatalf("restored subscribers mismatch")
	}
	if len(got.PSKs()) != 1 {
		t.Fatalf("restored psks mismatch")
	}
}

// Real publisher ids are ed25519 public keys, which are almost never valid
// UTF-8. The snapshot must round-trip them byte for byte.
func TestSnapshotRoundTripBinaryPublisherIDs(t *testing.T) {
	s := New()
	var p keys.PublisherID
	for i := range p {
		p[i] = 0xF0 | byte(i&0x0F)
	}
	s.Advance(p, testLink(3), 0)

	data, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	got, err := Restore(data)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got.NextSeq(p) != 1 {
		t.Fatalf("restored NextSeq = %d, want 1", got.NextSeq(p))
	}
	head, ok := got.Head(p)
	if !ok || head != testLink(3) {
		t.Fatalf("restored head mismatch")
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	if _, err := Restore([]byte("not cbor")); err == nil {
		t.Fatalf("expected decode error")
	}
}
