package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
)

// Snapshots let a process hand its full protocol state to a successor
// acting as the same publisher. Coordinating concurrent use of one exported
// identity is the caller's problem; the snapshot only carries the bytes.

const snapshotVersion = 1

// cursorSnap carries the publisher id as a byte field rather than keying a
// map with it: raw ed25519 keys are rarely valid UTF-8 and CBOR text-string
// map keys must be.
type cursorSnap struct {
	Publisher []byte `cbor:"1,keyasint"`
	Head      []byte `cbor:"2,keyasint"`
	NextSeq   uint64 `cbor:"3,keyasint"`
}

type branchSnap struct {
	Root    []byte   `cbor:"1,keyasint"`
	Key     []byte   `cbor:"2,keyasint"`
	Pubkeys [][]byte `cbor:"3,keyasint"`
	PSKIDs  [][]byte `cbor:"4,keyasint"`
}

type subscriberSnap struct {
	Publisher []byte `cbor:"1,keyasint"`
	Exchange  []byte `cbor:"2,keyasint"`
	Status    uint8  `cbor:"3,keyasint"`
}

type pskSnap struct {
	ID     []byte `cbor:"1,keyasint"`
	Secret []byte `cbor:"2,keyasint"`
}

type snapshot struct {
	Version     uint             `cbor:"1,keyasint"`
	Cursors     []cursorSnap     `cbor:"2,keyasint"`
	Known       [][]byte         `cbor:"3,keyasint"`
	Tip         []byte           `cbor:"4,keyasint"`
	Branches    []branchSnap     `cbor:"5,keyasint"`
	Subscribers []subscriberSnap `cbor:"6,keyasint"`
	PSKs        []pskSnap        `cbor:"7,keyasint"`
}

func linkBytes(l address.Link) []byte {
	out := make([]byte, 0, 2*address.IDSize)
	out = append(out, l.Channel[:]...)
	out = append(out, l.Msg[:]...)
	return out
}

func linkFromBytes(b []byte) (address.Link, error) {
	var l address.Link
	if len(b) == 0 {
		return l, nil
	}
	if len(b) != 2*address.IDSize {
		return l, fmt.Errorf("state: link snapshot has %d bytes", len(b))
	}
	copy(l.Channel[:], b[:address.IDSize])
	copy(l.Msg[:], b[address.IDSize:])
	return l, nil
}

// Export serializes the full state as CBOR.
func (s *State) Export() ([]byte, error) {
	snap := snapshot{
		Version: snapshotVersion,
		Tip:     linkBytes(s.tip),
	}
	for p, c := range s.cursors {
		snap.Cursors = append(snap.Cursors, cursorSnap{
			Publisher: append([]byte(nil), p[:]...),
			Head:      linkBytes(c.Head),
			NextSeq:   c.NextSeq,
		})
	}
	for l := range s.known {
		snap.Known = append(snap.Known, linkBytes(l))
	}
	for _, root := range s.branchOrder {
		b := s.branches[root]
		bs := branchSnap{Root: linkBytes(b.Root), Key: append([]byte(nil), b.Key[:]...)}
		for p := range b.Pubkeys {
			bs.Pubkeys = append(bs.Pubkeys, append([]byte(nil), p[:]...))
		}
		for id := range b.PSKIDs {
			bs.PSKIDs = append(bs.PSKIDs, append([]byte(nil), id[:]...))
		}
		snap.Branches = append(snap.Branches, bs)
	}
	for p, sub := range s.subscribers {
		snap.Subscribers = append(snap.Subscribers, subscriberSnap{
			Publisher: append([]byte(nil), p[:]...),
			Exchange:  append([]byte(nil), sub.Exchange[:]...),
			Status:    uint8(sub.Status),
		})
	}
	for id, secret := range s.psks {
		snap.PSKs = append(snap.PSKs, pskSnap{
			ID:     append([]byte(nil), id[:]...),
			Secret: append([]byte(nil), secret[:]...),
		})
	}
	return cbor.Marshal(snap)
}

// Restore rebuilds a state store from an exported snapshot.
func Restore(data []byte) (*State, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("state: snapshot decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("state: unsupported snapshot version %d", snap.Version)
	}

	s := New()
	for _, c := range snap.Cursors {
		if len(c.Publisher) != len(keys.PublisherID{}) {
			return nil, fmt.Errorf("state: publisher snapshot has %d bytes", len(c.Publisher))
		}
		var p keys.PublisherID
		copy(p[:], c.Publisher)
		head, err := linkFromBytes(c.Head)
		if err != nil {
			return nil, err
		}
		s.cursors[p] = &Cursor{Head: head, NextSeq: c.NextSeq}
	}
	for _, lb := range snap.Known {
		l, err := linkFromBytes(lb)
		if err != nil {
			return nil, err
		}
		s.known[l] = struct{}{}
	}
	tip, err := linkFromBytes(snap.Tip)
	if err != nil {
		return nil, err
	}
	s.tip = tip

	for _, bs := range snap.Branches {
		root, err := linkFromBytes(bs.Root)
		if err != nil {
			return nil, err
		}
		if len(bs.Key) != keyload.SessionKeySize {
			return nil, fmt.Errorf("state: branch key snapshot has %d bytes", len(bs.Key))
		}
		b := &Branch{
			Root:    root,
			Pubkeys: make(map[keys.PublisherID]struct{}),
			PSKIDs:  make(map[keyload.PSKID]struct{}),
		}
		copy(b.Key[:], bs.Key)
		for _, pb := range bs.Pubkeys {
			var p keys.PublisherID
			copy(p[:], pb)
			b.Pubkeys[p] = struct{}{}
		}
		for _, ib := range bs.PSKIDs {
			var id keyload.PSKID
			copy(id[:], ib)
			b.PSKIDs[id] = struct{}{}
		}
		s.AddBranch(b)
	}
	for _, sub := range snap.Subscribers {
		var p keys.PublisherID
		copy(p[:], sub.Publisher)
		var exch keys.ExchangeKey
		copy(exch[:], sub.Exchange)
		s.subscribers[p] = &Subscriber{Exchange: exch, Status: Status(sub.Status)}
	}
	for _, psk := range snap.PSKs {
		var id keyload.PSKID
		copy(id[:], psk.ID)
		var secret keyload.SessionKey
		copy(secret[:], psk.Secret)
		s.psks[id] = secret
	}
	return s, nil
}
