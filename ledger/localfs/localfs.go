// Package localfs provides a filesystem-backed ledger.
//
// Messages are stored immutably, keyed strictly by link. This backend is
// offline and deterministic: it never uses the network and never depends on
// wall-clock time.
package localfs

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/ledger"
)

type Ledger struct {
	root string
}

// New constructs a filesystem ledger rooted at root. The directory will be
// created if needed.
func New(root string) (*Ledger, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Ledger{root: root}, nil
}

func (l *Ledger) pathFor(at address.Link) string {
	ch := hex.EncodeToString(at.Channel[:])
	msg := hex.EncodeToString(at.Msg[:])
	return filepath.Join(l.root, ch, msg[:2], msg)
}

func (l *Ledger) Publish(ctx context.Context, at address.Link, data []byte) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	if !at.Defined() {
		return ledger.Receipt{}, ledger.ErrInvalidAddress
	}
	id, err := ledger.ContentID(data)
	if err != nil {
		return ledger.Receipt{}, err
	}

	path := l.pathFor(at)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ledger.Receipt{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				// An occupied but unreadable link is an immutability
				// violation, not a retriable miss.
				return ledger.Receipt{}, ledger.ErrConflict
			}
			if !bytes.Equal(existing, data) {
				return ledger.Receipt{}, ledger.ErrConflict
			}
			return ledger.Receipt{CID: id}, nil
		}
		return ledger.Receipt{}, err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return ledger.Receipt{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return ledger.Receipt{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{CID: id}, nil
}

func (l *Ledger) Fetch(ctx context.Context, at address.Link) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !at.Defined() {
		return nil, ledger.ErrInvalidAddress
	}
	data, err := os.ReadFile(l.pathFor(at))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (l *Ledger) Has(ctx context.Context, at address.Link) bool {
	if ctx.Err() != nil || !at.Defined() {
		return false
	}
	_, err := os.Stat(l.pathFor(at))
	return err == nil
}
