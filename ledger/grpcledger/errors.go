package grpcledger

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tanglechan/tanglechan/ledger"
)

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return ledger.ErrNotFound
	case codes.InvalidArgument:
		return ledger.ErrInvalidAddress
	case codes.AlreadyExists:
		// Server uses AlreadyExists for occupied links holding different bytes.
		return ledger.ErrConflict
	case codes.DataLoss:
		return ledger.ErrContentMismatch
	case codes.Unavailable, codes.DeadlineExceeded:
		return ledger.ErrUnavailable
	default:
		// Best-effort: if the server sent a known ledger error message, preserve it.
		switch st.Message() {
		case ledger.ErrNotFound.Error():
			return ledger.ErrNotFound
		case ledger.ErrInvalidAddress.Error():
			return ledger.ErrInvalidAddress
		case ledger.ErrConflict.Error():
			return ledger.ErrConflict
		default:
			return err
		}
	}
}
