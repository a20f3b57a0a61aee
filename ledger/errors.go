package ledger

import "errors"

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrConflict        = errors.New("ledger: link already holds different content")
	ErrUnavailable     = errors.New("ledger: unavailable")
	ErrInvalidAddress  = errors.New("ledger: invalid address")
	ErrContentMismatch = errors.New("ledger: content does not match its receipt")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
