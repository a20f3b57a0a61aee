package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/memledger"
)

// flipLedger corrupts fetched bytes at selected links.
type flipLedger struct {
	ledger.Ledger
	corrupt map[address.Link]bool
}

func (f *flipLedger) Fetch(ctx context.Context, at address.Link) ([]byte, error) {
	data, err := f.Ledger.Fetch(ctx, at)
	if err != nil {
		return nil, err
	}
	if f.corrupt[at] {
		data = append([]byte(nil), data...)
		data[len(data)-1] ^= 0x01
	}
	return data, nil
}

func setupChannel(t *testing.T, led ledger.Ledger, subLed ledger.Ledger) (*Author, *Subscriber, address.Link, address.Link) {
	t.Helper()
	ctx := context.Background()

	author, err := NewAuthor(testSeed(1), led, SingleBranch)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	sub, err := NewSubscriber(testSeed(2), subLed)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if err := sub.ReceiveAnnouncement(ctx, ann); err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}
	subLink, err := sub.SendSubscribe(ctx)
	if err != nil {
		t.Fatalf("SendSubscribe: %v", err)
	}
	if _, err := author.ReceiveSubscribe(ctx, subLink); err != nil {
		t.Fatalf("ReceiveSubscribe: %v", err)
	}
	klLink, err := author.SendKeyloadForEveryone(ctx, ann)
	if err != nil {
		t.Fatalf("SendKeyloadForEveryone: %v", err)
	}
	return author, sub, ann, klLink
}

func TestFetchOrdering(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()
	author, sub, _, klLink := setupChannel(t, led, led)

	const n = 5
	linkTo := klLink
	var want [][]byte
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf("packet-%d", i))
		want = append(want, payload)
		link, err := author.SendSignedPacket(ctx, linkTo, nil, payload)
		if err != nil {
			t.Fatalf("SendSignedPacket %d: %v", i, err)
		}
		linkTo = link
	}

	msgs, faults, err := sub.SyncState(ctx)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if len(faults) != 0 {
		t.Fatalf("SyncState faults: %+v", faults)
	}
	if len(msgs) != n+1 {
		t.Fatalf("SyncState returned %d messages, want %d", len(msgs), n+1)
	}
	if msgs[0].Type != envelope.Keyload {
		t.Fatalf("first message is %s, want keyload", msgs[0].Type)
	}
	for i, m := range msgs[1:] {
		if m.Type != envelope.SignedPacket {
			t.Fatalf("message %d is %s, want signed-packet", i, m.Type)
		}
		if !bytes.Equal(m.Masked, want[i]) {
			t.Fatalf("message %d payload %q, want %q", i, m.Masked, want[i])
		}
	}
}

func TestFetchIdempotent(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()
	author, sub, _, klLink := setupChannel(t, led, led)

	if _, err := author.SendSignedPacket(ctx, klLink, nil, []byte("once")); err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}
	msgs, _, err := sub.SyncState(ctx)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("first sync returned nothing")
	}

	for pass := 0; pass < 2; pass++ {
		msgs, faults, err := sub.FetchNextMsgs(ctx)
		if err != nil {
			t.Fatalf("FetchNextMsgs: %v", err)
		}
		if len(msgs) != 0 || len(faults) != 0 {
			t.Fatalf("repeat fetch returned %d messages, %d faults", len(msgs), len(faults))
		}
	}
}

func TestFetchTamperedMessage(t *testing.T) {
	ctx := context.Background()
	mem := memledger.New()
	flip := &flipLedger{Ledger: mem, corrupt: make(map[address.Link]bool)}
	author, sub, _, klLink := setupChannel(t, mem, flip)

	payload := []byte("original")
	pktLink, err := author.SendSignedPacket(ctx, klLink, nil, payload)
	if err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}
	flip.corrupt[pktLink] = true

	// The altered packet faults; the keyload before it still processes.
	for pass := 0; pass < 2; pass++ {
		msgs, faults, err := sub.SyncState(ctx)
		if err != nil {
			t.Fatalf("SyncState pass %d: %v", pass, err)
		}
		if pass == 0 && (len(msgs) != 1 || msgs[0].Type != envelope.Keyload) {
			t.Fatalf("pass 0 messages: %+v", msgs)
		}
		if pass == 1 && len(msgs) != 0 {
			t.Fatalf("pass 1 returned %d messages", len(msgs))
		}
		if len(faults) != 1 {
			t.Fatalf("pass %d faults: %+v", pass, faults)
		}
		f := faults[0]
		if f.Link != pktLink || !errors.Is(f.Err, ErrSignatureInvalid) {
			t.Fatalf("fault = %v at %s, want ErrSignatureInvalid at %s", f.Err, f.Link, pktLink)
		}
	}

	// The head never advanced, so clearing the corruption recovers the
	// original message.
	delete(flip.corrupt, pktLink)
	msgs, faults, err := sub.SyncState(ctx)
	if err != nil {
		t.Fatalf("SyncState after repair: %v", err)
	}
	if len(faults) != 0 {
		t.Fatalf("faults after repair: %+v", faults)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Masked, payload) {
		t.Fatalf("messages after repair: %+v", msgs)
	}
}

// Receiving a message ahead of its publisher's cursor returns the message
// but must not move the head: the gap would otherwise never be filled. The
// rejected advance is logged, not errored.
func TestOutOfOrderReceiveKeepsCursor(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()
	core, logs := observer.New(zap.DebugLevel)

	author, err := NewAuthor(testSeed(1), led, MultiBranch)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	sub, err := NewSubscriber(testSeed(2), led, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if err := sub.ReceiveAnnouncement(ctx, ann); err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}
	subLink, err := sub.SendSubscribe(ctx)
	if err != nil {
		t.Fatalf("SendSubscribe: %v", err)
	}
	if _, err := author.ReceiveSubscribe(ctx, subLink); err != nil {
		t.Fatalf("ReceiveSubscribe: %v", err)
	}
	klLink, err := author.SendKeyloadForEveryone(ctx, ann)
	if err != nil {
		t.Fatalf("SendKeyloadForEveryone: %v", err)
	}
	if _, _, err := sub.SyncState(ctx); err != nil {
		t.Fatalf("SyncState: %v", err)
	}

	// Both packets hang off the branch root, so the second is readable
	// before the first has been seen.
	if _, err := author.SendSignedPacket(ctx, klLink, nil, []byte("first")); err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}
	second, err := author.SendSignedPacket(ctx, klLink, nil, []byte("second"))
	if err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}

	msg, err := sub.ReceiveSignedPacket(ctx, second)
	if err != nil {
		t.Fatalf("ReceiveSignedPacket: %v", err)
	}
	if !bytes.Equal(msg.Masked, []byte("second")) {
		t.Fatalf("out-of-order payload = %q", msg.Masked)
	}
	if logs.FilterMessage("out-of-order head advance ignored").Len() != 1 {
		t.Fatalf("expected one rejected-advance log entry")
	}

	// The cursor stayed put, so forward fetch still delivers both in order.
	msgs, faults, err := sub.SyncState(ctx)
	if err != nil || len(faults) != 0 {
		t.Fatalf("SyncState after out-of-order receive: %v, faults %+v", err, faults)
	}
	if len(msgs) != 2 || !bytes.Equal(msgs[0].Masked, []byte("first")) || !bytes.Equal(msgs[1].Masked, []byte("second")) {
		t.Fatalf("fetched %d messages after out-of-order receive: %+v", len(msgs), msgs)
	}
}

func TestFetchPrevMsgs(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()
	author, sub, _, klLink := setupChannel(t, led, led)

	var links []address.Link
	linkTo := klLink
	for i := 0; i < 5; i++ {
		link, err := author.SendSignedPacket(ctx, linkTo, nil, []byte(fmt.Sprintf("packet-%d", i)))
		if err != nil {
			t.Fatalf("SendSignedPacket %d: %v", i, err)
		}
		links = append(links, link)
		linkTo = link
	}
	if _, _, err := sub.SyncState(ctx); err != nil {
		t.Fatalf("SyncState: %v", err)
	}

	// Three back from the newest packet: packets 3, 2, 1.
	msgs, err := sub.FetchPrevMsgs(ctx, links[4], 3)
	if err != nil {
		t.Fatalf("FetchPrevMsgs: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("FetchPrevMsgs returned %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"packet-3", "packet-2", "packet-1"} {
		if string(msgs[i].Masked) != want {
			t.Fatalf("prev message %d = %q, want %q", i, msgs[i].Masked, want)
		}
	}

	// A deep walk stops at the announcement.
	msgs, err = sub.FetchPrevMsgs(ctx, links[1], 10)
	if err != nil {
		t.Fatalf("FetchPrevMsgs: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("deep walk returned %d messages, want 3", len(msgs))
	}
	if msgs[1].Type != envelope.Keyload || msgs[2].Type != envelope.Announce {
		t.Fatalf("deep walk types: %s, %s, %s", msgs[0].Type, msgs[1].Type, msgs[2].Type)
	}

	// Backward walks never move heads: forward fetch still finds nothing.
	fwd, faults, err := sub.FetchNextMsgs(ctx)
	if err != nil || len(fwd) != 0 || len(faults) != 0 {
		t.Fatalf("forward fetch after history walk: %d messages, %d faults, %v", len(fwd), len(faults), err)
	}
}
