// Package memledger provides an in-memory ledger for tests and examples.
package memledger

import (
	"bytes"
	"context"
	"sync"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/ledger"
)

// Ledger is a process-local, mutex-guarded message store.
type Ledger struct {
	mu      sync.RWMutex
	objects map[address.Link][]byte
}

func New() *Ledger {
	return &Ledger{objects: make(map[address.Link][]byte)}
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

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, occupied := l.objects[at]; occupied {
		if !bytes.Equal(existing, data) {
			return ledger.Receipt{}, ledger.ErrConflict
		}
		return ledger.Receipt{CID: id}, nil
	}
	l.objects[at] = append([]byte(nil), data...)
	return ledger.Receipt{CID: id}, nil
}

func (l *Ledger) Fetch(ctx context.Context, at address.Link) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !at.Defined() {
		return nil, ledger.ErrInvalidAddress
	}
	l.mu.RLock()
	data, ok := l.objects[at]
	l.mu.RUnlock()
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (l *Ledger) Has(ctx context.Context, at address.Link) bool {
	if ctx.Err() != nil || !at.Defined() {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.objects[at]
	return ok
}

// Len reports the number of stored messages.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.objects)
}
