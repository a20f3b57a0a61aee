package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/ledger"
)

// FetchNextMsgs runs one forward discovery pass: for every tracked
// publisher it derives candidate next addresses from the cursor and fetches
// until the ledger reports nothing there. Messages come back in processing
// order. A message that fails validation becomes a Fault and stops that
// publisher's progress for the pass without affecting the others; a
// transport failure aborts the pass with an error, and the pass can simply
// be retried.
func (u *user) FetchNextMsgs(ctx context.Context) ([]Message, []Fault, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.bound {
		return nil, nil, ErrNoChannel
	}

	var (
		msgs   []Message
		faults []Fault
		self   = u.id.PublisherID()
	)
	for _, p := range u.st.Publishers() {
		if p == self {
			continue
		}
		for {
			link := address.NextLink(u.ch, p, u.st.NextSeq(p))
			env, err := u.fetchEnvelope(ctx, link)
			if err != nil {
				if ledger.IsNotFound(err) {
					break
				}
				if ledger.IsUnavailable(err) {
					return msgs, faults, err
				}
				// Undecodable bytes at a derived address.
				faults = append(faults, Fault{Publisher: p, Link: link, Err: err})
				break
			}
			msg, err := u.process(link, env)
			if err != nil {
				faults = append(faults, Fault{Publisher: p, Link: link, Err: err})
				break
			}
			msgs = append(msgs, *msg)
		}
	}
	if len(msgs) > 0 || len(faults) > 0 {
		u.log.Debug("fetch pass done",
			zap.Int("messages", len(msgs)),
			zap.Int("faults", len(faults)))
	}
	return msgs, faults, nil
}

// SyncState repeats forward fetch passes until one pass yields no new
// messages, returning everything processed. A pass can surface publishers
// it just learned about, so one pass is not always enough. Only faults
// from the final pass are reported: a message faulting on a link its
// reader had not seen yet clears itself once an earlier pass supplies it.
func (u *user) SyncState(ctx context.Context) ([]Message, []Fault, error) {
	var all []Message
	for {
		msgs, faults, err := u.FetchNextMsgs(ctx)
		all = append(all, msgs...)
		if err != nil {
			return all, faults, err
		}
		if len(msgs) == 0 {
			return all, faults, nil
		}
	}
}

// FetchPrevMsgs walks the previous-link chain backward from a message,
// returning up to max messages newest first. The walk is read-only: heads
// do not move and no branch keys are learned, so it is safe on links
// outside the local identity's readable branches. It stops at the
// announcement.
func (u *user) FetchPrevMsgs(ctx context.Context, from address.Link, max int) ([]Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.bound {
		return nil, ErrNoChannel
	}

	env, err := u.fetchEnvelope(ctx, from)
	if err != nil {
		return nil, err
	}

	var out []Message
	for len(out) < max && len(env.Prev) > 0 {
		prev := env.Prev[0]
		if !prev.Defined() {
			break
		}
		penv, err := u.fetchEnvelope(ctx, prev)
		if err != nil {
			return out, err
		}
		msg, err := u.readMsg(prev, penv)
		if err != nil {
			return out, err
		}
		out = append(out, *msg)
		if penv.Type == envelope.Announce {
			break
		}
		env = penv
	}
	return out, nil
}

// readMsg validates an envelope without mutating state. Used on backward
// walks, where already-processed history must not advance cursors again.
func (u *user) readMsg(link address.Link, env *envelope.Envelope) (*Message, error) {
	if link.Channel != u.ch {
		return nil, fmt.Errorf("%w: message from another channel", ErrUnexpectedMessage)
	}
	if address.NextLink(u.ch, env.Publisher, env.Seq) != link {
		return nil, fmt.Errorf("%w: link does not match publisher and sequence", ErrUnexpectedMessage)
	}
	switch env.Type {
	case envelope.Announce, envelope.Subscribe, envelope.Unsubscribe, envelope.Keyload, envelope.SignedPacket:
		if err := env.Verify(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	}

	msg := &Message{Link: link, From: env.Publisher, Type: env.Type, Public: env.Public}
	switch env.Type {
	case envelope.TaggedPacket, envelope.SignedPacket:
		pt, ok := u.tryOpen(env)
		if !ok {
			msg.Skipped = true
			break
		}
		msg.Masked = pt
	case envelope.Keyload:
		msg.Skipped = true
	}
	return msg, nil
}
