package channel

import (
	"errors"

	"github.com/tanglechan/tanglechan/keyload"
)

var (
	// ErrChannelAlreadyAnnounced reports a second Announce on one author.
	ErrChannelAlreadyAnnounced = errors.New("channel: already announced")

	// ErrNoChannel reports an operation before the engine is bound to a
	// channel (announce or receive-announcement).
	ErrNoChannel = errors.New("channel: not bound to a channel")

	// ErrEmptyKeyload reports a keyload with no recipients at all.
	ErrEmptyKeyload = keyload.ErrEmptyKeyload

	// ErrSignatureInvalid reports a message whose signature fails; the
	// message is rejected and no head advances.
	ErrSignatureInvalid = errors.New("channel: signature invalid")

	// ErrAddressConflict reports the ledger holding different content at a
	// derived address. This is a protocol violation, never retried.
	ErrAddressConflict = errors.New("channel: address conflict")

	// ErrNotInBranch reports a packet outside the local identity's
	// readable branches. During sync this is the silent Skipped outcome;
	// direct receives surface it.
	ErrNotInBranch = errors.New("channel: no session key for this branch")

	// ErrUnknownPrevLink reports a message referencing an unpublished or
	// unseen previous message.
	ErrUnknownPrevLink = errors.New("channel: unknown previous link")

	// ErrUnexpectedMessage reports a message of the wrong type or origin
	// for the requested operation.
	ErrUnexpectedMessage = errors.New("channel: unexpected message")

	// ErrUnknownRecipient reports a keyload recipient that is not an
	// active entry in the subscriber registry.
	ErrUnknownRecipient = errors.New("channel: recipient not registered")

	// ErrUnknownPSK reports a keyload referencing a pre-shared key id the
	// registry does not hold.
	ErrUnknownPSK = errors.New("channel: unknown pre-shared key id")
)
