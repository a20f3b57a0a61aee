package ledger

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 (raw multicodec, sha2-256 multihash) of the
// stored bytes. Receipts carry it and fetch paths re-derive it.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// VerifyContent checks fetched bytes against the content id recorded at
// publish time.
func VerifyContent(id cid.Cid, data []byte) error {
	got, err := ContentID(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return ErrContentMismatch
	}
	return nil
}
