package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tanglechan/tanglechan/ledger/grpcledger"
	"github.com/tanglechan/tanglechan/ledger/ledgerregistry"

	_ "github.com/tanglechan/tanglechan/ledger/localfs"
	_ "github.com/tanglechan/tanglechan/ledger/memledger"
)

func main() {
	fs := flag.NewFlagSet("chan-ledgerd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7788", "listen address")
	backend := fs.String("backend", "localfs", "ledger backend name")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	verbose := fs.Bool("v", false, "Verbose logging")

	ledgerregistry.RegisterFlags(fs, ledgerregistry.UsageDaemon)

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, b := range ledgerregistry.List(ledgerregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	logCfg := zap.NewProductionConfig()
	if *verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	led, closeFn, err := ledgerregistry.Open(*backend, ledgerregistry.UsageDaemon)
	if err != nil {
		log.Error("open backend", zap.String("backend", *backend), zap.Error(err))
		os.Exit(2)
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("listen", zap.String("addr", *listen), zap.Error(err))
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcledger.RegisterLedgerServer(s, &grpcledger.Server{Ledger: led, Log: log})

	log.Info("chan-ledgerd listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("backend", *backend))
	if err := s.Serve(lis); err != nil {
		log.Error("serve", zap.Error(err))
		os.Exit(1)
	}
}
