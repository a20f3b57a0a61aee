// Package address derives and parses channel message links.
//
// A Link is a globally unique pointer (channel id, message id) into the
// ledger's address space. Message ids are derived with a keyed hash over the
// publisher identity and a per-publisher sequence counter, so distinct
// publishers writing into the same channel never collide without
// coordination.
package address

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// IDSize is the byte length of both link components.
	IDSize = 32

	channelContext = "tanglechan/v1 channel id"
	msgContext     = "tanglechan/v1 msg id"
)

// ChannelID identifies one channel instance.
type ChannelID [IDSize]byte

// MsgID identifies one message within a channel instance.
type MsgID [IDSize]byte

// Link is a unique pointer to one message on the ledger.
type Link struct {
	Channel ChannelID
	Msg     MsgID
}

// ErrMalformedAddress reports a textual link that does not parse.
// Use errors.Is for detection; the message carries the detail.
type ErrMalformedAddress struct {
	Input  string
	Reason string
}

func (e *ErrMalformedAddress) Error() string {
	return fmt.Sprintf("address: malformed %q: %s", e.Input, e.Reason)
}

// NewChannelID derives the channel instance id from the author's signing key
// and a channel nonce. The derivation is deterministic and collision
// resistant across authors and nonces.
func NewChannelID(authorPub ed25519.PublicKey, nonce uint64) (ChannelID, error) {
	if len(authorPub) != ed25519.PublicKeySize {
		return ChannelID{}, fmt.Errorf("address: author public key must be %d bytes, got %d", ed25519.PublicKeySize, len(authorPub))
	}
	material := make([]byte, 0, ed25519.PublicKeySize+8)
	material = append(material, authorPub...)
	material = binary.BigEndian.AppendUint64(material, nonce)

	var ch ChannelID
	blake3.DeriveKey(channelContext, material, ch[:])
	return ch, nil
}

// NextMsgID derives the message id a publisher will use for its seq-th
// message in the channel. The hash is keyed by the channel id so ids from
// different channels never relate, and the (publisher, seq) input makes ids
// from distinct publishers or distinct counters pairwise distinct with
// overwhelming probability.
func NextMsgID(ch ChannelID, publisher [IDSize]byte, seq uint64) MsgID {
	key := make([]byte, IDSize)
	blake3.DeriveKey(msgContext, ch[:], key)

	h, err := blake3.NewKeyed(key)
	if err != nil {
		// NewKeyed only rejects keys that are not 32 bytes.
		panic("address: keyed hasher: " + err.Error())
	}
	_, _ = h.Write(publisher[:])
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], seq)
	_, _ = h.Write(seqBuf[:])

	var id MsgID
	copy(id[:], h.Sum(nil))
	return id
}

// NextLink is NextMsgID bundled with the channel id.
func NextLink(ch ChannelID, publisher [IDSize]byte, seq uint64) Link {
	return Link{Channel: ch, Msg: NextMsgID(ch, publisher, seq)}
}

// Defined reports whether l has been set to a real address.
func (l Link) Defined() bool {
	return l != Link{}
}

// String renders the canonical textual form "<channel>:<msg>", both
// components lowercase hex. The form round-trips exactly through Parse.
func (l Link) String() string {
	return hex.EncodeToString(l.Channel[:]) + ":" + hex.EncodeToString(l.Msg[:])
}

// Parse decodes the canonical textual link form.
func Parse(s string) (Link, error) {
	chPart, msgPart, ok := strings.Cut(s, ":")
	if !ok {
		return Link{}, &ErrMalformedAddress{Input: s, Reason: "expected <channel>:<msg>"}
	}
	if strings.Contains(msgPart, ":") {
		return Link{}, &ErrMalformedAddress{Input: s, Reason: "too many components"}
	}

	var l Link
	if err := decodeID(chPart, l.Channel[:]); err != nil {
		return Link{}, &ErrMalformedAddress{Input: s, Reason: "channel id: " + err.Error()}
	}
	if err := decodeID(msgPart, l.Msg[:]); err != nil {
		return Link{}, &ErrMalformedAddress{Input: s, Reason: "message id: " + err.Error()}
	}
	return l, nil
}

func decodeID(s string, dst []byte) error {
	if len(s) != 2*IDSize {
		return fmt.Errorf("expected %d hex chars, got %d", 2*IDSize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}
