package memledger

import (
	"flag"

	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/ledgerregistry"
)

func init() {
	ledgerregistry.MustRegister(ledgerregistry.Backend{
		Name:        "mem",
		Description: "in-memory ledger (contents lost on exit)",
		Usage:       ledgerregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {},
		Open: func() (ledger.Ledger, func() error, error) {
			return New(), nil, nil
		},
	})
}
