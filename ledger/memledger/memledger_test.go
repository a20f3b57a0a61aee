package memledger

import (
	"testing"

	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/testkit"
)

func TestConformance(t *testing.T) {
	testkit.RunLedgerConformance(t, func(t *testing.T) ledger.Ledger {
		return New()
	})
}
