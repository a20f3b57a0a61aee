package state

import (
	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
)

// Branch is one access-control domain: the messages readable under one
// session key, rooted at the keyload (or announcement) that opened it.
//
// A superseding keyload for the same purpose opens a new Branch under a new
// root; earlier branches stay readable to holders of their keys.
type Branch struct {
	Root    address.Link
	Key     keyload.SessionKey
	Pubkeys map[keys.PublisherID]struct{}
	PSKIDs  map[keyload.PSKID]struct{}
}

// AddBranch records a branch the local identity can read. Re-adding an
// existing root replaces its entry but keeps its position in trial order.
func (s *State) AddBranch(b *Branch) {
	if _, exists := s.branches[b.Root]; !exists {
		s.branchOrder = append(s.branchOrder, b.Root)
	}
	s.branches[b.Root] = b
}

// Branch looks up a branch by its root link.
func (s *State) Branch(root address.Link) (*Branch, bool) {
	b, ok := s.branches[root]
	return b, ok
}

// Branches returns readable branches newest-first. Packet decryption tries
// keys in this order, so recent branches resolve fastest.
func (s *State) Branches() []*Branch {
	out := make([]*Branch, 0, len(s.branchOrder))
	for i := len(s.branchOrder) - 1; i >= 0; i-- {
		out = append(out, s.branches[s.branchOrder[i]])
	}
	return out
}
