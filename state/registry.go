package state

import (
	"bytes"
	"sort"

	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
)

// Status is a subscriber's registration state in the author's registry.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusUnregistered
)

func (st Status) String() string {
	switch st {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// Subscriber is one registry entry: the exchange key future keyloads wrap
// to, plus the registration state.
type Subscriber struct {
	Exchange keys.ExchangeKey
	Status   Status
}

// RegisterSubscriber records a subscriber key as Active. Registration is
// the only path by which a key becomes eligible for keyloads.
func (s *State) RegisterSubscriber(p keys.PublisherID, exch keys.ExchangeKey) {
	s.subscribers[p] = &Subscriber{Exchange: exch, Status: StatusActive}
}

// UnregisterSubscriber drops a key from future keyload recipient sets.
// Already-issued branches are unaffected.
func (s *State) UnregisterSubscriber(p keys.PublisherID) bool {
	sub, ok := s.subscribers[p]
	if !ok {
		return false
	}
	sub.Status = StatusUnregistered
	return true
}

// SubscriberStatus reports a key's registration state.
func (s *State) SubscriberStatus(p keys.PublisherID) (Status, bool) {
	sub, ok := s.subscribers[p]
	if !ok {
		return 0, false
	}
	return sub.Status, true
}

// SubscriberExchange returns the exchange key registered for a publisher.
func (s *State) SubscriberExchange(p keys.PublisherID) (keys.ExchangeKey, bool) {
	sub, ok := s.subscribers[p]
	if !ok || sub.Status != StatusActive {
		return keys.ExchangeKey{}, false
	}
	return sub.Exchange, true
}

// ActiveSubscribers returns the exchange keys of all Active entries in
// deterministic order.
func (s *State) ActiveSubscribers() []keys.ExchangeKey {
	ids := s.ActiveSubscriberIDs()
	out := make([]keys.ExchangeKey, 0, len(ids))
	for _, p := range ids {
		out = append(out, s.subscribers[p].Exchange)
	}
	return out
}

// ActiveSubscriberIDs returns the publisher ids of all Active entries in
// deterministic order.
func (s *State) ActiveSubscriberIDs() []keys.PublisherID {
	ids := make([]keys.PublisherID, 0, len(s.subscribers))
	for p, sub := range s.subscribers {
		if sub.Status == StatusActive {
			ids = append(ids, p)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

// StorePSK adds a pre-shared key to the registry.
func (s *State) StorePSK(id keyload.PSKID, secret keyload.SessionKey) {
	s.psks[id] = secret
}

// PSKs exposes the registry for keyload unwrapping.
func (s *State) PSKs() map[keyload.PSKID]keyload.SessionKey {
	return s.psks
}

// PSKList returns all pre-shared keys in deterministic order.
func (s *State) PSKList() []keyload.PSK {
	ids := make([]keyload.PSKID, 0, len(s.psks))
	for id := range s.psks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	out := make([]keyload.PSK, 0, len(ids))
	for _, id := range ids {
		out = append(out, keyload.PSK{ID: id, Secret: s.psks[id]})
	}
	return out
}
