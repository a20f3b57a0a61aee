package channel

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/ledger"
)

// Subscriber joins an existing channel: it binds to an announcement,
// registers with the author, and reads the branches it holds keys for.
type Subscriber struct {
	*user
}

// NewSubscriber builds a subscriber from a 32-byte identity seed. It is
// unusable until ReceiveAnnouncement binds it to a channel.
func NewSubscriber(seed []byte, led ledger.Ledger, opts ...Option) (*Subscriber, error) {
	u, err := newUser(seed, led, opts...)
	if err != nil {
		return nil, err
	}
	return &Subscriber{user: u}, nil
}

// ReceiveAnnouncement fetches and validates the announcement at link and
// binds the subscriber to its channel. The announcement must sit at the
// author's sequence-zero derived address and carry a valid signature; the
// channel id must re-derive from the author key and the announced nonce.
func (s *Subscriber) ReceiveAnnouncement(ctx context.Context, link address.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bound {
		return ErrChannelAlreadyAnnounced
	}

	env, err := s.fetchEnvelope(ctx, link)
	if err != nil {
		return err
	}
	if env.Type != envelope.Announce {
		return fmt.Errorf("%w: got %s, want announce", ErrUnexpectedMessage, env.Type)
	}
	if env.Seq != 0 || address.NextLink(link.Channel, env.Publisher, 0) != link {
		return fmt.Errorf("%w: announcement not at the channel's first address", ErrUnexpectedMessage)
	}
	if err := env.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if len(env.Public) != announcePayloadSize {
		return fmt.Errorf("%w: announcement payload has length %d", ErrUnexpectedMessage, len(env.Public))
	}

	branching := Branching(env.Public[0])
	if branching != SingleBranch && branching != MultiBranch {
		return fmt.Errorf("%w: unknown branching mode %d", ErrUnexpectedMessage, env.Public[0])
	}
	var exch keys.ExchangeKey
	copy(exch[:], env.Public[1:1+keys.ExchangeKeySize])
	nonce := binary.BigEndian.Uint64(env.Public[1+keys.ExchangeKeySize:])

	ch, err := address.NewChannelID(env.Publisher[:], nonce)
	if err != nil {
		return err
	}
	if ch != link.Channel {
		return fmt.Errorf("%w: channel id does not derive from the announcing key", ErrUnexpectedMessage)
	}

	s.bind(ch, link, env.Publisher, branching)
	s.authorExchange = exch
	s.st.Advance(env.Publisher, link, 0)
	s.log.Info("bound to channel",
		zap.Stringer("link", link),
		zap.Stringer("branching", branching))
	return nil
}

// AuthorExchangeKey returns the author's key-wrap public key from the
// announcement.
func (s *Subscriber) AuthorExchangeKey() (keys.ExchangeKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		return keys.ExchangeKey{}, ErrNoChannel
	}
	return s.authorExchange, nil
}

// SendSubscribe publishes a signed subscription request carrying this
// identity's exchange key. The author must process it before this identity
// can appear in keyload recipient sets.
func (s *Subscriber) SendSubscribe(ctx context.Context) (address.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bound {
		return address.Link{}, ErrNoChannel
	}
	exch := s.id.ExchangeKey()
	env := &envelope.Envelope{
		Type:   envelope.Subscribe,
		Prev:   []address.Link{s.annLink},
		Public: append([]byte(nil), exch[:]...),
	}
	return s.send(ctx, env, nil, true)
}

// SendUnsubscribe publishes a signed request to leave future keyload
// recipient sets. Branches this identity already holds stay readable.
func (s *Subscriber) SendUnsubscribe(ctx context.Context) (address.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bound {
		return address.Link{}, ErrNoChannel
	}
	env := &envelope.Envelope{
		Type: envelope.Unsubscribe,
		Prev: []address.Link{s.annLink},
	}
	return s.send(ctx, env, nil, true)
}

// ReceiveKeyload processes the keyload at link. When one of its wrap blocks
// unwraps for this identity, the keyload's link becomes a readable branch
// root; otherwise the returned message is marked Skipped.
func (s *Subscriber) ReceiveKeyload(ctx context.Context, link address.Link) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.receiveMsg(ctx, link)
	if err != nil {
		return nil, err
	}
	if msg.Type != envelope.Keyload {
		return nil, fmt.Errorf("%w: got %s, want keyload", ErrUnexpectedMessage, msg.Type)
	}
	return msg, nil
}
