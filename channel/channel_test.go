package channel

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/ledger/memledger"
	"github.com/tanglechan/tanglechan/state"
)

func testSeed(b byte) []byte {
	s := make([]byte, keys.SeedSize)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestAnnounceAndBind(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()

	author, err := NewAuthor(testSeed(1), led, SingleBranch)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if !ann.Defined() {
		t.Fatal("announcement link is zero")
	}

	sub, err := NewSubscriber(testSeed(2), led)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if err := sub.ReceiveAnnouncement(ctx, ann); err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}

	got, err := sub.ChannelLink()
	if err != nil || got != ann {
		t.Fatalf("ChannelLink = %v, %v, want %v", got, err, ann)
	}
	mode, err := sub.Branching()
	if err != nil || mode != SingleBranch {
		t.Fatalf("Branching = %v, %v", mode, err)
	}
	ap, err := sub.AuthorPublicKey()
	if err != nil || ap != author.PublicKey() {
		t.Fatalf("AuthorPublicKey = %x, %v", ap[:8], err)
	}
}

func TestAnnounceTwice(t *testing.T) {
	ctx := context.Background()
	author, err := NewAuthor(testSeed(1), memledger.New(), SingleBranch)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	if _, err := author.Announce(ctx); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if _, err := author.Announce(ctx); !errors.Is(err, ErrChannelAlreadyAnnounced) {
		t.Fatalf("second Announce err = %v, want ErrChannelAlreadyAnnounced", err)
	}
}

func TestOperationsBeforeBind(t *testing.T) {
	ctx := context.Background()
	sub, err := NewSubscriber(testSeed(3), memledger.New())
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	if _, err := sub.SendSubscribe(ctx); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("SendSubscribe err = %v, want ErrNoChannel", err)
	}
	if _, _, err := sub.FetchNextMsgs(ctx); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("FetchNextMsgs err = %v, want ErrNoChannel", err)
	}
	if _, err := sub.ExportState(); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("ExportState err = %v, want ErrNoChannel", err)
	}
}

func TestSubscribeHandshake(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()

	author, _ := NewAuthor(testSeed(1), led, SingleBranch)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	sub, _ := NewSubscriber(testSeed(2), led)
	if err := sub.ReceiveAnnouncement(ctx, ann); err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}
	subLink, err := sub.SendSubscribe(ctx)
	if err != nil {
		t.Fatalf("SendSubscribe: %v", err)
	}

	msg, err := author.ReceiveSubscribe(ctx, subLink)
	if err != nil {
		t.Fatalf("ReceiveSubscribe: %v", err)
	}
	if msg.From != sub.PublicKey() {
		t.Fatalf("subscribe attributed to %x, want %x", msg.From[:8], sub.PublicKey())
	}
	st, ok := author.SubscriberStatus(sub.PublicKey())
	if !ok || st != state.StatusActive {
		t.Fatalf("subscriber status = %v, %v, want active", st, ok)
	}

	unsubLink, err := sub.SendUnsubscribe(ctx)
	if err != nil {
		t.Fatalf("SendUnsubscribe: %v", err)
	}
	if _, err := author.ReceiveUnsubscribe(ctx, unsubLink); err != nil {
		t.Fatalf("ReceiveUnsubscribe: %v", err)
	}
	st, ok = author.SubscriberStatus(sub.PublicKey())
	if !ok || st != state.StatusUnregistered {
		t.Fatalf("subscriber status = %v, %v, want unregistered", st, ok)
	}

	// Unregistered keys are no longer valid keyload recipients.
	_, err = author.SendKeyload(ctx, ann, []keys.PublisherID{sub.PublicKey()}, nil)
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("SendKeyload err = %v, want ErrUnknownRecipient", err)
	}
}

func TestEmptyKeyload(t *testing.T) {
	ctx := context.Background()
	author, _ := NewAuthor(testSeed(1), memledger.New(), SingleBranch)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if _, err := author.SendKeyload(ctx, ann, nil, nil); !errors.Is(err, ErrEmptyKeyload) {
		t.Fatalf("SendKeyload err = %v, want ErrEmptyKeyload", err)
	}
}

func TestRestrictedBranch(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()

	author, _ := NewAuthor(testSeed(1), led, SingleBranch)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	insider, _ := NewSubscriber(testSeed(2), led)
	outsider, _ := NewSubscriber(testSeed(3), led)
	for _, s := range []*Subscriber{insider, outsider} {
		if err := s.ReceiveAnnouncement(ctx, ann); err != nil {
			t.Fatalf("ReceiveAnnouncement: %v", err)
		}
		link, err := s.SendSubscribe(ctx)
		if err != nil {
			t.Fatalf("SendSubscribe: %v", err)
		}
		if _, err := author.ReceiveSubscribe(ctx, link); err != nil {
			t.Fatalf("ReceiveSubscribe: %v", err)
		}
	}

	klLink, err := author.SendKeyload(ctx, ann, []keys.PublisherID{insider.PublicKey()}, nil)
	if err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}

	kl, err := insider.ReceiveKeyload(ctx, klLink)
	if err != nil {
		t.Fatalf("insider ReceiveKeyload: %v", err)
	}
	if kl.Skipped {
		t.Fatal("insider skipped a keyload addressed to it")
	}
	kl, err = outsider.ReceiveKeyload(ctx, klLink)
	if err != nil {
		t.Fatalf("outsider ReceiveKeyload: %v", err)
	}
	if !kl.Skipped {
		t.Fatal("outsider unwrapped a keyload not addressed to it")
	}

	secret := []byte("for insiders only")
	pktLink, err := author.SendSignedPacket(ctx, klLink, []byte("hdr"), secret)
	if err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}

	got, err := insider.ReceiveSignedPacket(ctx, pktLink)
	if err != nil {
		t.Fatalf("insider ReceiveSignedPacket: %v", err)
	}
	if !bytes.Equal(got.Masked, secret) {
		t.Fatalf("insider read %q, want %q", got.Masked, secret)
	}

	if _, err := outsider.ReceiveSignedPacket(ctx, pktLink); !errors.Is(err, ErrNotInBranch) {
		t.Fatalf("outsider ReceiveSignedPacket err = %v, want ErrNotInBranch", err)
	}
}

func TestPSKOnlyReader(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()

	secret := keyload.SessionKey{9, 9, 9}
	pskID := keyload.DerivePSKID(secret)

	author, _ := NewAuthor(testSeed(1), led, SingleBranch)
	author.StorePSK(pskID, secret)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	klLink, err := author.SendKeyload(ctx, ann, nil, []keyload.PSKID{pskID})
	if err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}
	payload := []byte("psk readable")
	if _, err := author.SendSignedPacket(ctx, klLink, nil, payload); err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}

	// The reader never subscribes; holding the PSK is its only credential.
	reader, _ := NewSubscriber(testSeed(4), led)
	reader.StorePSK(pskID, secret)
	if err := reader.ReceiveAnnouncement(ctx, ann); err != nil {
		t.Fatalf("ReceiveAnnouncement: %v", err)
	}

	msgs, faults, err := reader.SyncState(ctx)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if len(faults) != 0 {
		t.Fatalf("SyncState faults: %+v", faults)
	}
	var got []byte
	for _, m := range msgs {
		if len(m.Masked) > 0 {
			got = m.Masked
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("psk reader read %q, want %q", got, payload)
	}
}

func TestUnknownPSK(t *testing.T) {
	ctx := context.Background()
	author, _ := NewAuthor(testSeed(1), memledger.New(), SingleBranch)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	var id keyload.PSKID
	id[0] = 7
	if _, err := author.SendKeyload(ctx, ann, nil, []keyload.PSKID{id}); !errors.Is(err, ErrUnknownPSK) {
		t.Fatalf("SendKeyload err = %v, want ErrUnknownPSK", err)
	}
}

func TestExportImportState(t *testing.T) {
	ctx := context.Background()
	led := memledger.New()

	author, _ := NewAuthor(testSeed(1), led, SingleBranch)
	ann, err := author.Announce(ctx)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}

	sub, _ := NewSubscriber(testSeed(2), led)
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

	blob, err := author.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}

	// A successor process holding the same seed resumes the channel and
	// publishes without colliding with anything already on the ledger.
	resumed, err := NewAuthor(testSeed(1), led, SingleBranch)
	if err != nil {
		t.Fatalf("NewAuthor: %v", err)
	}
	if err := resumed.ImportState(blob); err != nil {
		t.Fatalf("ImportState: %v", err)
	}
	got, err := resumed.ChannelLink()
	if err != nil || got != ann {
		t.Fatalf("resumed ChannelLink = %v, %v, want %v", got, err, ann)
	}
	st, ok := resumed.SubscriberStatus(sub.PublicKey())
	if !ok || st != state.StatusActive {
		t.Fatalf("resumed subscriber status = %v, %v", st, ok)
	}

	payload := []byte("after resume")
	if _, err := resumed.SendSignedPacket(ctx, klLink, nil, payload); err != nil {
		t.Fatalf("resumed SendSignedPacket: %v", err)
	}

	msgs, faults, err := sub.SyncState(ctx)
	if err != nil {
		t.Fatalf("SyncState: %v", err)
	}
	if len(faults) != 0 {
		t.Fatalf("SyncState faults: %+v", faults)
	}
	var got2 []byte
	for _, m := range msgs {
		if len(m.Masked) > 0 {
			got2 = m.Masked
		}
	}
	if !bytes.Equal(got2, payload) {
		t.Fatalf("subscriber read %q, want %q", got2, payload)
	}
}
