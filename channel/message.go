package channel

import (
	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/envelope"
	"github.com/tanglechan/tanglechan/keys"
)

// Branching selects the channel's sequencing mode, fixed at announce time.
type Branching uint8

const (
	// SingleBranch channels form one linear history all publishers append to.
	SingleBranch Branching = 0
	// MultiBranch channels let publishers attach messages to branch roots
	// independently, relying on derived addresses instead of a shared tip.
	MultiBranch Branching = 1
)

func (b Branching) String() string {
	if b == MultiBranch {
		return "multi"
	}
	return "single"
}

// Message is one processed channel message returned to the caller.
type Message struct {
	Link address.Link
	From keys.PublisherID
	Type envelope.MsgType

	Public []byte
	Masked []byte // decrypted payload; nil when Skipped

	// Skipped marks a valid message outside the local identity's readable
	// branches. Its head still advanced; there is just nothing to read.
	Skipped bool
}

// Fault is a reported, non-fatal per-message failure during a fetch pass.
// It stops the affected publisher's forward progress for the pass without
// aborting other publishers.
type Fault struct {
	Publisher keys.PublisherID
	Link      address.Link
	Err       error
}
