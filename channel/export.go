package channel

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/state"
)

// An exported engine carries the channel binding plus the full state
// snapshot. The identity seed is NOT included; the importer must hold the
// same seed, or the restored cursors would claim another publisher's
// addresses.

const exportVersion = 1

type exportSnap struct {
	Version   uint   `cbor:"1,keyasint"`
	Channel   []byte `cbor:"2,keyasint"`
	AnnLink   []byte `cbor:"3,keyasint"`
	Author    []byte `cbor:"4,keyasint"`
	Branching uint8  `cbor:"5,keyasint"`
	State     []byte `cbor:"6,keyasint"`
	AuthorKEM []byte `cbor:"7,keyasint"`
}

// ExportState serializes the channel binding and protocol state so a later
// process with the same identity seed can resume where this one stopped.
func (u *user) ExportState() ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.bound {
		return nil, ErrNoChannel
	}
	st, err := u.st.Export()
	if err != nil {
		return nil, err
	}
	snap := exportSnap{
		Version:   exportVersion,
		Channel:   append([]byte(nil), u.ch[:]...),
		AnnLink:   append(append([]byte(nil), u.annLink.Channel[:]...), u.annLink.Msg[:]...),
		Author:    append([]byte(nil), u.author[:]...),
		Branching: uint8(u.branching),
		State:     st,
		AuthorKEM: append([]byte(nil), u.authorExchange[:]...),
	}
	return cbor.Marshal(snap)
}

// ImportState restores an exported engine into this instance. The instance
// must not already be bound to a channel.
func (u *user) ImportState(data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.bound {
		return ErrChannelAlreadyAnnounced
	}
	var snap exportSnap
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("channel: state decode: %w", err)
	}
	if snap.Version != exportVersion {
		return fmt.Errorf("channel: unsupported state version %d", snap.Version)
	}
	if len(snap.Channel) != address.IDSize || len(snap.AnnLink) != 2*address.IDSize {
		return fmt.Errorf("channel: malformed channel binding in state")
	}
	if len(snap.Author) != keys.PublisherIDSize {
		return fmt.Errorf("channel: malformed author id in state")
	}

	st, err := state.Restore(snap.State)
	if err != nil {
		return err
	}

	copy(u.ch[:], snap.Channel)
	copy(u.annLink.Channel[:], snap.AnnLink[:address.IDSize])
	copy(u.annLink.Msg[:], snap.AnnLink[address.IDSize:])
	copy(u.author[:], snap.Author)
	copy(u.authorExchange[:], snap.AuthorKEM)
	u.branching = Branching(snap.Branching)
	u.st = st
	u.bound = true
	return nil
}
