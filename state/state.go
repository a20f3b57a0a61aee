// Package state holds the mutable per-identity protocol state: sequencing
// cursors per publisher, the branch table with session keys, the
// author-side subscriber registry and the pre-shared-key registry.
//
// State is single-owner. The engine serializes access (one in-flight
// operation per identity); nothing here locks.
package state

import (
	"bytes"
	"sort"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
)

// Cursor tracks one publisher's progress through the channel.
type Cursor struct {
	Head    address.Link // last message successfully processed or sent
	NextSeq uint64       // next expected sequence counter
}

// State is the per-identity protocol state store.
type State struct {
	cursors map[keys.PublisherID]*Cursor
	known   map[address.Link]struct{}
	tip     address.Link // newest known message, the single-branch link-to target

	branches    map[address.Link]*Branch
	branchOrder []address.Link

	subscribers map[keys.PublisherID]*Subscriber
	psks        map[keyload.PSKID]keyload.SessionKey
}

func New() *State {
	return &State{
		cursors:     make(map[keys.PublisherID]*Cursor),
		known:       make(map[address.Link]struct{}),
		branches:    make(map[address.Link]*Branch),
		subscribers: make(map[keys.PublisherID]*Subscriber),
		psks:        make(map[keyload.PSKID]keyload.SessionKey),
	}
}

// TrackPublisher starts following a publisher from sequence zero. Tracking
// an already-known publisher is a no-op.
func (s *State) TrackPublisher(p keys.PublisherID) {
	if _, ok := s.cursors[p]; !ok {
		s.cursors[p] = &Cursor{}
	}
}

// Tracked reports whether the publisher has a cursor.
func (s *State) Tracked(p keys.PublisherID) bool {
	_, ok := s.cursors[p]
	return ok
}

// NextSeq returns the next expected sequence counter for a publisher,
// starting the cursor if needed.
func (s *State) NextSeq(p keys.PublisherID) uint64 {
	s.TrackPublisher(p)
	return s.cursors[p].NextSeq
}

// Head returns the publisher's last processed link.
func (s *State) Head(p keys.PublisherID) (address.Link, bool) {
	c, ok := s.cursors[p]
	if !ok || !c.Head.Defined() {
		return address.Link{}, false
	}
	return c.Head, true
}

// Advance moves a publisher's cursor to link at seq. Heads only move
// forward: anything but the next contiguous sequence number is rejected as
// a no-op and reported false. A successful advance records the link as
// known and makes it the channel tip.
func (s *State) Advance(p keys.PublisherID, link address.Link, seq uint64) bool {
	s.TrackPublisher(p)
	c := s.cursors[p]
	if seq != c.NextSeq {
		return false
	}
	c.Head = link
	c.NextSeq = seq + 1
	s.AddKnown(link)
	s.tip = link
	return true
}

// Publishers returns all tracked publishers in deterministic order.
func (s *State) Publishers() []keys.PublisherID {
	out := make([]keys.PublisherID, 0, len(s.cursors))
	for p := range s.cursors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// AddKnown records a link as published-and-seen. Previous-link references
// are only accepted against known links.
func (s *State) AddKnown(link address.Link) {
	s.known[link] = struct{}{}
}

// Knows reports whether the link has been seen.
func (s *State) Knows(link address.Link) bool {
	_, ok := s.known[link]
	return ok
}

// Tip returns the newest known message link.
func (s *State) Tip() (address.Link, bool) {
	return s.tip, s.tip.Defined()
}
