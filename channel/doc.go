// Package channel implements the publish/subscribe channel protocol engine.
//
// An Author creates a channel by publishing an announcement at a
// deterministic first address. Subscribers bind to the announcement,
// register via subscribe messages, and receive branch session keys through
// keyloads. Both roles then exchange tagged (unsigned) and signed packets
// and discover each other's messages by deriving candidate next addresses
// from per-publisher sequence counters, so no publisher needs to see full
// history before writing.
//
// Engine state is single-owner: each Author/Subscriber serializes its own
// operations internally, and distinct identities interact only through the
// ledger and the deterministic addressing scheme.
package channel
