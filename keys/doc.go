// Package keys provides channel identities and key-related helpers.
//
// An Identity bundles the two keypairs a channel participant needs: an
// Ed25519 signing keypair (the participant's publisher identity) and an
// X25519 key-encapsulation keypair used to receive wrapped branch session
// keys. Both are derived deterministically from one 32-byte seed.
//
// The filesystem-backed KeyStore is a local-first convenience for the CLI
// tools; it is not part of the protocol contract.
package keys
