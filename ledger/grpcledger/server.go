package grpcledger

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/ledger"
)

// Server exposes a ledger.Ledger over the Ledger gRPC service.
type Server struct {
	UnimplementedLedgerServer
	Ledger ledger.Ledger
	Log    *zap.Logger
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

const rawLinkSize = 2 * address.IDSize

func linkFromRaw(b []byte) (address.Link, bool) {
	if len(b) < rawLinkSize {
		return address.Link{}, false
	}
	var l address.Link
	copy(l.Channel[:], b[:address.IDSize])
	copy(l.Msg[:], b[address.IDSize:rawLinkSize])
	return l, true
}

func (s *Server) Publish(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Ledger == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	b := in.GetValue()
	at, ok := linkFromRaw(b)
	if !ok || !at.Defined() {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidAddress.Error())
	}
	rec, err := s.Ledger.Publish(ctx, at, b[rawLinkSize:])
	if err != nil {
		return nil, mapErr(err)
	}
	s.logger().Debug("published", zap.Stringer("link", at), zap.Int("bytes", len(b)-rawLinkSize))
	return wrapperspb.String(rec.CID.String()), nil
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Ledger == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	at, err := address.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidAddress.Error())
	}
	b, err := s.Ledger.Fetch(ctx, at)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Ledger == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing ledger")
	}
	at, err := address.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, ledger.ErrInvalidAddress.Error())
	}
	return wrapperspb.Bool(s.Ledger.Has(ctx, at)), nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidAddress):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ledger.ErrContentMismatch):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
