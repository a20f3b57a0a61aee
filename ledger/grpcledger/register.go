package grpcledger

import (
	"flag"
	"time"

	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/ledgerregistry"
)

var (
	targetFlag  *string
	timeoutFlag *time.Duration
)

func init() {
	ledgerregistry.MustRegister(ledgerregistry.Backend{
		Name:        "grpc",
		Description: "remote ledger over gRPC",
		Usage:       ledgerregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			targetFlag = fs.String("grpc-target", "127.0.0.1:7788", "ledger gRPC target address")
			timeoutFlag = fs.Duration("grpc-timeout", 10*time.Second, "per-RPC timeout")
		},
		Open: func() (ledger.Ledger, func() error, error) {
			client, err := Dial(*targetFlag, DialOptions{Timeout: *timeoutFlag})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = *timeoutFlag
			return client, client.Close, nil
		},
	})
}
