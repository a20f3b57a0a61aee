package channel

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/state"
)

// announcePayloadSize is branching byte + exchange key + channel nonce.
const announcePayloadSize = 1 + keys.ExchangeKeySize + 8

// Author owns a channel: it announces it, admits subscribers and issues
// branch session keys. One Author instance manages exactly one channel.
type Author struct {
	*user
	branchingWanted Branching
}

// NewAuthor builds an author from a 32-byte identity seed. The channel does
// not exist until Announce.
func NewAuthor(seed []byte, led ledger.Ledger, branching Branching, opts ...Option) (*Author, error) {
	u, err := newUser(seed, led, opts...)
	if err != nil {
		return nil, err
	}
	return &Author{user: u, branchingWanted: branching}, nil
}

// Announce creates the channel: it draws a channel nonce, derives the
// channel id from the author's signing key, and publishes the signed
// announcement at the channel's first derived address. The returned link is
// the channel handle subscribers bind to.
func (a *Author) Announce(ctx context.Context) (address.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bound {
		return address.Link{}, ErrChannelAlreadyAnnounced
	}

	var nb [8]byte
	if _, err := rand.Read(nb[:]); err != nil {
		return address.Link{}, err
	}
	nonce := binary.BigEndian.Uint64(nb[:])

	ch, err := address.NewChannelID(a.id.PublicKey(), nonce)
	if err != nil {
		return address.Link{}, err
	}

	exch := a.id.ExchangeKey()
	public := make([]byte, 0, announcePayloadSize)
	public = append(public, byte(a.branchingWanted))
	public = append(public, exch[:]...)
	public = append(public, nb[:]...)

	env := &envelope.Envelope{
		Type:   envelope.Announce,
		Public: public,
	}

	a.ch = ch
	link, err := a.send(ctx, env, nil, true)
	if err != nil {
		a.ch = address.ChannelID{}
		return address.Link{}, err
	}
	a.bind(ch, link, a.id.PublisherID(), a.branchingWanted)
	a.authorExchange = exch
	a.log.Info("channel announced",
		zap.Stringer("link", link),
		zap.Stringer("branching", a.branchingWanted))
	return link, nil
}

// ReceiveSubscribe processes a subscription request at link, recording the
// subscriber's exchange key as Active in the registry.
func (a *Author) ReceiveSubscribe(ctx context.Context, link address.Link) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := a.receiveMsg(ctx, link)
	if err != nil {
		return nil, err
	}
	if msg.Type != envelope.Subscribe {
		return nil, fmt.Errorf("%w: got %s, want subscribe", ErrUnexpectedMessage, msg.Type)
	}
	return msg, nil
}

// ReceiveUnsubscribe processes an unsubscription at link. The subscriber is
// dropped from future keyload recipient sets; branches it already holds
// keys for stay readable to it.
func (a *Author) ReceiveUnsubscribe(ctx context.Context, link address.Link) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := a.receiveMsg(ctx, link)
	if err != nil {
		return nil, err
	}
	if msg.Type != envelope.Unsubscribe {
		return nil, fmt.Errorf("%w: got %s, want unsubscribe", ErrUnexpectedMessage, msg.Type)
	}
	return msg, nil
}

// SendKeyload opens a new restricted branch for an explicit recipient set:
// registered subscriber keys plus pre-shared key ids. Every recipient must
// be an Active registry entry, every PSK id a stored key. The published
// keyload's own link is the new branch root.
func (a *Author) SendKeyload(ctx context.Context, linkTo address.Link, recipients []keys.PublisherID, pskIDs []keyload.PSKID) (address.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exchs := make([]keys.ExchangeKey, 0, len(recipients))
	for _, p := range recipients {
		exch, ok := a.st.SubscriberExchange(p)
		if !ok {
			return address.Link{}, fmt.Errorf("%w: %x", ErrUnknownRecipient, p[:8])
		}
		exchs = append(exchs, exch)
	}
	psks := make([]keyload.PSK, 0, len(pskIDs))
	for _, id := range pskIDs {
		secret, ok := a.st.PSKs()[id]
		if !ok {
			return address.Link{}, fmt.Errorf("%w: %x", ErrUnknownPSK, id[:])
		}
		psks = append(psks, keyload.PSK{ID: id, Secret: secret})
	}

	return a.sendKeyload(ctx, linkTo, recipients, pskIDs, exchs, psks)
}

// SendKeyloadForEveryone opens a new branch readable by every Active
// subscriber and every stored pre-shared key.
func (a *Author) SendKeyloadForEveryone(ctx context.Context, linkTo address.Link) (address.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	recipients := a.st.ActiveSubscriberIDs()
	exchs := a.st.ActiveSubscribers()
	pskList := a.st.PSKList()
	psks := make([]keyload.PSK, 0, len(pskList))
	pskIDs := make([]keyload.PSKID, 0, len(pskList))
	for _, p := range pskList {
		psks = append(psks, p)
		pskIDs = append(pskIDs, p.ID)
	}

	return a.sendKeyload(ctx, linkTo, recipients, pskIDs, exchs, psks)
}

func (a *Author) sendKeyload(ctx context.Context, linkTo address.Link, recipients []keys.PublisherID, pskIDs []keyload.PSKID, exchs []keys.ExchangeKey, psks []keyload.PSK) (address.Link, error) {
	if !a.bound {
		return address.Link{}, ErrNoChannel
	}
	if !linkTo.Defined() {
		linkTo = a.annLink
	}
	if !a.st.Knows(linkTo) {
		return address.Link{}, fmt.Errorf("%w: %s", ErrUnknownPrevLink, linkTo)
	}

	session, err := keyload.NewSessionKey()
	if err != nil {
		return address.Link{}, err
	}
	wraps, err := keyload.Wrap(session, exchs, psks)
	if err != nil {
		return address.Link{}, err
	}

	// The recipient publisher list rides in the public payload so every
	// reader, recipient or not, can start tracking those publishers'
	// cursors. Access to the branch itself stays inside the wrap blocks.
	public := make([]byte, 0, len(recipients)*keys.PublisherIDSize)
	for _, p := range recipients {
		public = append(public, p[:]...)
	}

	env := &envelope.Envelope{
		Type:   envelope.Keyload,
		Prev:   []address.Link{linkTo},
		Public: public,
		Wraps:  wraps,
	}
	link, err := a.send(ctx, env, &session, true)
	if err != nil {
		return address.Link{}, err
	}

	b := &state.Branch{
		Root:    link,
		Key:     session,
		Pubkeys: make(map[keys.PublisherID]struct{}, len(recipients)+1),
		PSKIDs:  make(map[keyload.PSKID]struct{}, len(pskIDs)),
	}
	b.Pubkeys[a.id.PublisherID()] = struct{}{}
	for _, p := range recipients {
		b.Pubkeys[p] = struct{}{}
	}
	for _, id := range pskIDs {
		b.PSKIDs[id] = struct{}{}
	}
	a.st.AddBranch(b)

	a.log.Info("branch opened",
		zap.Stringer("root", link),
		zap.Int("recipients", len(exchs)),
		zap.Int("psks", len(psks)))
	return link, nil
}

// SubscriberStatus reports a publisher's registration state.
func (a *Author) SubscriberStatus(p keys.PublisherID) (state.Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.SubscriberStatus(p)
}
