package localfs

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/ledgerregistry"
)

var rootFlag *string

func init() {
	ledgerregistry.MustRegister(ledgerregistry.Backend{
		Name:        "localfs",
		Description: "filesystem ledger (default root ~/.tanglechan/ledger)",
		Usage:       ledgerregistry.UsageCLI | ledgerregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			rootFlag = fs.String("localfs-root", "", "localfs ledger root directory")
		},
		Open: func() (ledger.Ledger, func() error, error) {
			root := ""
			if rootFlag != nil {
				root = *rootFlag
			}
			if root == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, nil, err
				}
				root = filepath.Join(home, ".tanglechan", "ledger")
			}
			led, err := New(root)
			if err != nil {
				return nil, nil, err
			}
			return led, nil, nil
		},
	})
}
