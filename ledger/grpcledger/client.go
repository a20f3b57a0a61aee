package grpcledger

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/ledger"
)

// Client implements ledger.Ledger over a Ledger gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client LedgerClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewLedgerClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Publish(ctx context.Context, at address.Link, data []byte) (ledger.Receipt, error) {
	if !at.Defined() {
		return ledger.Receipt{}, ledger.ErrInvalidAddress
	}
	expected, err := ledger.ContentID(data)
	if err != nil {
		return ledger.Receipt{}, err
	}

	ctx, cancel := c.ctx(ctx)
	defer cancel()

	framed := make([]byte, 0, rawLinkSize+len(data))
	framed = append(framed, at.Channel[:]...)
	framed = append(framed, at.Msg[:]...)
	framed = append(framed, data...)

	reply, err := c.client.Publish(ctx, wrapperspb.Bytes(framed))
	if err != nil {
		return ledger.Receipt{}, mapRPC(err)
	}
	id, err := cid.Decode(reply.GetValue())
	if err != nil || !id.Defined() {
		return ledger.Receipt{}, ledger.ErrContentMismatch
	}
	if !id.Equals(expected) {
		// The server stored something other than what we sent.
		return ledger.Receipt{}, ledger.ErrContentMismatch
	}
	return ledger.Receipt{CID: id}, nil
}

func (c *Client) Fetch(ctx context.Context, at address.Link) ([]byte, error) {
	if !at.Defined() {
		return nil, ledger.ErrInvalidAddress
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Fetch(ctx, wrapperspb.String(at.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Has(ctx context.Context, at address.Link) bool {
	if !at.Defined() {
		return false
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(at.String()))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.Timeout)
}
