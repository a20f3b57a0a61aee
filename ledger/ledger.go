// Package ledger defines the transport contract the channel engine writes
// to and fetches from: an append-only store keyed by derived message links.
package ledger

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/tanglechan/tanglechan/address"
)

// Receipt is returned by a successful publish.
type Receipt struct {
	// CID is the CIDv1 (raw + sha2-256) of the stored bytes. Fetch paths
	// re-derive it to detect a ledger serving altered content.
	CID cid.Cid
}

// Ledger is the append-only message store.
//
// Contract:
//   - Publish MUST be idempotent for identical bytes at the same link.
//   - Publish MUST return ErrConflict when the link already holds different
//     bytes. With correct sequence-counter discipline this never happens;
//     observing it is a protocol violation, not a retry case.
//   - Stored messages MUST be immutable.
//   - Fetch MUST return ErrNotFound when the link is absent.
//   - Transient backend failures surface as errors wrapping ErrUnavailable;
//     those are safe to retry wholesale.
type Ledger interface {
	Publish(ctx context.Context, at address.Link, data []byte) (Receipt, error)
	Fetch(ctx context.Context, at address.Link) ([]byte, error)
	Has(ctx context.Context, at address.Link) bool
}
