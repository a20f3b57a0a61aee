package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/state"
)

const defaultBranchContext = "tanglechan/v1 default branch"

// user is the engine core shared by both roles. All exported operations on
// Author and Subscriber take the mutex, so one identity never has two
// in-flight operations mutating its state.
type user struct {
	mu sync.Mutex

	id  *keys.Identity
	led ledger.Ledger
	log *zap.Logger
	st  *state.State

	ch             address.ChannelID
	annLink        address.Link
	branching      Branching
	author         keys.PublisherID
	authorExchange keys.ExchangeKey
	bound          bool
}

// Option configures an engine instance.
type Option func(*user)

// WithLogger attaches a structured logger. The default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *user) { u.log = l }
}

func newUser(seed []byte, led ledger.Ledger, opts ...Option) (*user, error) {
	id, err := keys.NewIdentity(seed)
	if err != nil {
		return nil, err
	}
	if led == nil {
		return nil, errors.New("channel: ledger is required")
	}
	u := &user{
		id:  id,
		led: led,
		log: zap.NewNop(),
		st:  state.New(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// PublicKey returns the identity's publisher id.
func (u *user) PublicKey() keys.PublisherID { return u.id.PublisherID() }

// ExchangeKey returns the identity's key-wrap public key.
func (u *user) ExchangeKey() keys.ExchangeKey { return u.id.ExchangeKey() }

// ChannelLink returns the channel's announcement link.
func (u *user) ChannelLink() (address.Link, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.bound {
		return address.Link{}, ErrNoChannel
	}
	return u.annLink, nil
}

// AuthorPublicKey returns the channel author's publisher id.
func (u *user) AuthorPublicKey() (keys.PublisherID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.bound {
		return keys.PublisherID{}, ErrNoChannel
	}
	return u.author, nil
}

// Branching returns the channel's sequencing mode.
func (u *user) Branching() (Branching, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.bound {
		return 0, ErrNoChannel
	}
	return u.branching, nil
}

// StorePSK adds a pre-shared key to the registry. PSKs arrive out-of-band;
// the engine only reads them.
func (u *user) StorePSK(id keyload.PSKID, secret keyload.SessionKey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.StorePSK(id, secret)
}

// defaultBranchKey derives the unrestricted default branch key. Anyone who
// can read the announcement can derive it, which is exactly the access the
// default branch grants.
func defaultBranchKey(ch address.ChannelID) keyload.SessionKey {
	var k keyload.SessionKey
	blake3.DeriveKey(defaultBranchContext, ch[:], k[:])
	return k
}

func (u *user) bind(ch address.ChannelID, annLink address.Link, author keys.PublisherID, branching Branching) {
	u.ch = ch
	u.annLink = annLink
	u.author = author
	u.branching = branching
	u.st.AddBranch(&state.Branch{Root: annLink, Key: defaultBranchKey(ch)})
	u.bound = true
}

// ResolveLinkTo picks the link a new message should attach to. Single-branch
// channels chain onto the newest known message; multi-branch channels attach
// to the branch root itself, since publishers there share no linear history.
func (u *user) ResolveLinkTo(branchRoot address.Link) (address.Link, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.resolveLinkTo(branchRoot)
}

func (u *user) resolveLinkTo(branchRoot address.Link) (address.Link, error) {
	if !u.bound {
		return address.Link{}, ErrNoChannel
	}
	if u.branching == MultiBranch {
		if !branchRoot.Defined() {
			branchRoot = u.annLink
		}
		if _, ok := u.st.Branch(branchRoot); !ok {
			return address.Link{}, ErrUnknownPrevLink
		}
		return branchRoot, nil
	}
	tip, ok := u.st.Tip()
	if !ok {
		return address.Link{}, ErrNoChannel
	}
	return tip, nil
}

// branchKeyFor selects the session key a packet at linkTo is sealed with:
// the branch rooted at linkTo when there is one, otherwise the newest
// readable branch.
func (u *user) branchKeyFor(linkTo address.Link) (keyload.SessionKey, error) {
	if b, ok := u.st.Branch(linkTo); ok {
		return b.Key, nil
	}
	branches := u.st.Branches()
	if len(branches) == 0 {
		return keyload.SessionKey{}, ErrNotInBranch
	}
	return branches[0].Key, nil
}

// send seals, signs, publishes and commits one envelope. The sequence
// counter is consumed only after the ledger accepts the bytes, so a failed
// publish never burns an address that was never written.
func (u *user) send(ctx context.Context, env *envelope.Envelope, sealKey *keyload.SessionKey, sign bool) (address.Link, error) {
	self := u.id.PublisherID()
	seq := u.st.NextSeq(self)
	link := address.NextLink(u.ch, self, seq)

	env.Publisher = self
	env.Seq = seq

	if sealKey != nil {
		if err := env.Seal(*sealKey); err != nil {
			return address.Link{}, err
		}
	}
	if sign {
		if err := env.Sign(u.id); err != nil {
			return address.Link{}, err
		}
	}
	raw, err := env.Encode()
	if err != nil {
		return address.Link{}, err
	}

	if _, err := u.led.Publish(ctx, link, raw); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return address.Link{}, fmt.Errorf("%w at %s", ErrAddressConflict, link)
		}
		return address.Link{}, err
	}

	u.st.Advance(self, link, seq)
	u.log.Debug("published message",
		zap.Stringer("type", env.Type),
		zap.Stringer("link", link),
		zap.Uint64("seq", seq))
	return link, nil
}

// fetchEnvelope fetches and decodes the message at link.
func (u *user) fetchEnvelope(ctx context.Context, link address.Link) (*envelope.Envelope, error) {
	raw, err := u.led.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	return envelope.Decode(raw)
}

// process validates one fetched envelope and applies its effects. On
// success the sender's head advances; every validation runs before any
// state mutation.
func (u *user) process(link address.Link, env *envelope.Envelope) (*Message, error) {
	if !u.bound {
		return nil, ErrNoChannel
	}
	if link.Channel != u.ch {
		return nil, fmt.Errorf("%w: message from another channel", ErrUnexpectedMessage)
	}
	// The link must equal the derivation for the claimed publisher and
	// sequence; anything else is a forged or misplaced message.
	if address.NextLink(u.ch, env.Publisher, env.Seq) != link {
		return nil, fmt.Errorf("%w: link does not match publisher and sequence", ErrUnexpectedMessage)
	}
	for _, prev := range env.Prev {
		if !u.st.Knows(prev) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrevLink, prev)
		}
	}

	switch env.Type {
	case envelope.Announce:
		// Announcements are consumed through ReceiveAnnouncement during
		// channel binding, never mid-stream.
		return nil, fmt.Errorf("%w: announcement mid-stream", ErrUnexpectedMessage)
	case envelope.Subscribe, envelope.Unsubscribe, envelope.Keyload, envelope.SignedPacket:
		if err := env.Verify(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	case envelope.TaggedPacket, envelope.Sequence:
		// Unsigned: authenticity is asserted only by branch membership.
	}

	msg := &Message{Link: link, From: env.Publisher, Type: env.Type, Public: env.Public}

	switch env.Type {
	case envelope.Subscribe:
		exch, err := exchangeKeyFromPayload(env.Public)
		if err != nil {
			return nil, err
		}
		u.st.RegisterSubscriber(env.Publisher, exch)
	case envelope.Unsubscribe:
		u.st.UnregisterSubscriber(env.Publisher)
	case envelope.Keyload:
		if env.Publisher != u.author {
			return nil, fmt.Errorf("%w: keyload not issued by the author", ErrUnexpectedMessage)
		}
		// The public payload lists the recipient publishers; start cursors
		// for them so forward fetches derive their candidate addresses.
		for rest := env.Public; len(rest) >= keys.PublisherIDSize; rest = rest[keys.PublisherIDSize:] {
			var p keys.PublisherID
			copy(p[:], rest)
			u.st.TrackPublisher(p)
		}
		session, ok, err := keyload.Unwrap(env.Wraps, u.id, u.st.PSKs())
		if err != nil {
			return nil, err
		}
		if !ok {
			msg.Skipped = true
			break
		}
		if env.Sealed() {
			if _, err := env.Open(session); err != nil {
				return nil, err
			}
		}
		u.st.AddBranch(&state.Branch{Root: link, Key: session})
	case envelope.TaggedPacket, envelope.SignedPacket:
		plaintext, ok := u.tryOpen(env)
		if !ok {
			msg.Skipped = true
			break
		}
		msg.Masked = plaintext
	case envelope.Sequence:
		// Reserved type: nothing to read, but the head still advances.
		msg.Skipped = true
	}

	if !u.st.Advance(env.Publisher, link, env.Seq) {
		u.log.Debug("out-of-order head advance ignored",
			zap.Stringer("link", link),
			zap.Uint64("seq", env.Seq))
	}
	return msg, nil
}

// tryOpen attempts the masked payload against every readable branch key,
// newest branch first. Failure means the packet belongs to a branch this
// identity cannot read.
func (u *user) tryOpen(env *envelope.Envelope) ([]byte, bool) {
	if !env.Sealed() {
		return env.Masked, true
	}
	for _, b := range u.st.Branches() {
		if pt, err := env.Open(b.Key); err == nil {
			return pt, true
		}
	}
	return nil, false
}

func exchangeKeyFromPayload(payload []byte) (keys.ExchangeKey, error) {
	if len(payload) < keys.ExchangeKeySize {
		return keys.ExchangeKey{}, fmt.Errorf("%w: subscribe payload too short", ErrUnexpectedMessage)
	}
	var exch keys.ExchangeKey
	copy(exch[:], payload)
	return exch, nil
}

// receiveMsg fetches, validates and applies the message at link.
func (u *user) receiveMsg(ctx context.Context, link address.Link) (*Message, error) {
	env, err := u.fetchEnvelope(ctx, link)
	if err != nil {
		return nil, err
	}
	return u.process(link, env)
}

// ReceiveMsg fetches the message at link and dispatches it by type.
func (u *user) ReceiveMsg(ctx context.Context, link address.Link) (*Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.receiveMsg(ctx, link)
}

// receivePacket is the shared body of the typed packet receives.
func (u *user) receivePacket(ctx context.Context, link address.Link, want envelope.MsgType) (*Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	msg, err := u.receiveMsg(ctx, link)
	if err != nil {
		return nil, err
	}
	if msg.Type != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, msg.Type, want)
	}
	if msg.Skipped {
		return nil, ErrNotInBranch
	}
	return msg, nil
}

// ReceiveTaggedPacket fetches a tagged packet and returns its payloads.
func (u *user) ReceiveTaggedPacket(ctx context.Context, link address.Link) (*Message, error) {
	return u.receivePacket(ctx, link, envelope.TaggedPacket)
}

// ReceiveSignedPacket fetches a signed packet, verifies the sender's
// signature and returns its payloads.
func (u *user) ReceiveSignedPacket(ctx context.Context, link address.Link) (*Message, error) {
	return u.receivePacket(ctx, link, envelope.SignedPacket)
}

// SendTaggedPacket publishes an unsigned packet sealed for the branch at
// linkTo. Readers learn only branch membership, not sender identity.
func (u *user) SendTaggedPacket(ctx context.Context, linkTo address.Link, public, masked []byte) (address.Link, error) {
	return u.sendPacket(ctx, linkTo, public, masked, envelope.TaggedPacket)
}

// SendSignedPacket publishes a packet sealed for the branch at linkTo and
// signed by the sender.
func (u *user) SendSignedPacket(ctx context.Context, linkTo address.Link, public, masked []byte) (address.Link, error) {
	return u.sendPacket(ctx, linkTo, public, masked, envelope.SignedPacket)
}

func (u *user) sendPacket(ctx context.Context, linkTo address.Link, public, masked []byte, typ envelope.MsgType) (address.Link, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.bound {
		return address.Link{}, ErrNoChannel
	}
	if !u.st.Knows(linkTo) {
		return address.Link{}, fmt.Errorf("%w: %s", ErrUnknownPrevLink, linkTo)
	}
	key, err := u.branchKeyFor(linkTo)
	if err != nil {
		return address.Link{}, err
	}

	env := &envelope.Envelope{
		Type:   typ,
		Prev:   []address.Link{linkTo},
		Public: public,
		Masked: masked,
	}
	return u.send(ctx, env, &key, typ == envelope.SignedPacket)
}
