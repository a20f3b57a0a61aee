package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tanglechan/tanglechan/address"
	"github.com/tanglechan/tanglechan/channel"
	"github.com/tanglechan/tanglechan/keyload"
	"github.com/tanglechan/tanglechan/keys"
	"github.com/tanglechan/tanglechan/ledger"
	"github.com/tanglechan/tanglechan/ledger/ledgerregistry"

	_ "github.com/tanglechan/tanglechan/ledger/grpcledger"
	_ "github.com/tanglechan/tanglechan/ledger/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "announce":
		return cmdAnnounce(args[1:], out, errOut)
	case "subscribe":
		return cmdSubscribe(args[1:], out, errOut)
	case "unsubscribe":
		return cmdUnsubscribe(args[1:], out, errOut)
	case "receive":
		return cmdReceive(args[1:], out, errOut)
	case "keyload":
		return cmdKeyload(args[1:], out, errOut)
	case "psk":
		return cmdPSK(args[1:], out, errOut)
	case "send":
		return cmdSend(args[1:], out, errOut)
	case "sync":
		return cmdSync(args[1:], out, errOut)
	case "history":
		return cmdHistory(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "chan-cli: channel protocol client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  chan-cli key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  chan-cli key list")
	fmt.Fprintln(w, "  chan-cli key export --name <name>")
	fmt.Fprintln(w, "  chan-cli announce --key <name> [--branching single|multi]")
	fmt.Fprintln(w, "  chan-cli subscribe --key <name> --channel <link>")
	fmt.Fprintln(w, "  chan-cli unsubscribe --key <name>")
	fmt.Fprintln(w, "  chan-cli receive --key <name> --link <link>")
	fmt.Fprintln(w, "  chan-cli keyload --key <name> [--link-to <link>] (--everyone | --recipient <ed25519:..> ...) [--psk-id <32hex> ...]")
	fmt.Fprintln(w, "  chan-cli psk --key <name> --secret-hex <64hex>")
	fmt.Fprintln(w, "  chan-cli send --key <name> --link-to <link> [--tagged] [--public <text>] [--masked <text>]")
	fmt.Fprintln(w, "  chan-cli sync --key <name>")
	fmt.Fprintln(w, "  chan-cli history --key <name> --from <link> [--max <n>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - keys live under ~/.tanglechan/keys, engine state under ~/.tanglechan/state")
	fmt.Fprintln(w, "  - every channel command accepts --ledger <backend> plus backend flags")
	fmt.Fprintln(w, "  - links print as <channel-hex>:<message-hex>; pass them back verbatim")
}

// newFlagSet wires the shared ledger selection flags into a subcommand.
func newFlagSet(name string, errOut io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	backend := fs.String("ledger", "localfs", "ledger backend name")
	ledgerregistry.RegisterFlags(fs, ledgerregistry.UsageCLI)
	return fs, backend
}

func openLedger(backend string) (ledger.Ledger, func() error, error) {
	return ledgerregistry.Open(backend, ledgerregistry.UsageCLI)
}

func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tanglechan", "state"), nil
}

func saveState(keyName string, blob []byte) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, keyName+".state"), blob, 0o600)
}

func loadState(keyName string) ([]byte, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(dir, keyName+".state"))
}

func loadSeed(keyName string, errOut io.Writer) ([]byte, bool) {
	if keyName == "" {
		fmt.Fprintln(errOut, "missing --key")
		return nil, false
	}
	ks, err := keys.OpenKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return nil, false
	}
	id, err := ks.Load(keyName)
	if err != nil {
		fmt.Fprintf(errOut, "load key %q: %v\n", keyName, err)
		return nil, false
	}
	return id.Seed(), true
}

// loadSubscriber restores a bound engine for role-agnostic operations.
func loadSubscriber(keyName, backend string, errOut io.Writer) (*channel.Subscriber, func() error, bool) {
	seed, ok := loadSeed(keyName, errOut)
	if !ok {
		return nil, nil, false
	}
	led, closeFn, err := openLedger(backend)
	if err != nil {
		fmt.Fprintf(errOut, "ledger: %v\n", err)
		return nil, nil, false
	}
	eng, err := channel.NewSubscriber(seed, led)
	if err != nil {
		fmt.Fprintf(errOut, "engine: %v\n", err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	blob, err := loadState(keyName)
	if err != nil {
		fmt.Fprintf(errOut, "load state for %q: %v\n", keyName, err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	if err := eng.ImportState(blob); err != nil {
		fmt.Fprintf(errOut, "import state: %v\n", err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	return eng, closeFn, true
}

// loadAuthor restores a bound engine and checks this key really is the
// channel author.
func loadAuthor(keyName, backend string, errOut io.Writer) (*channel.Author, func() error, bool) {
	seed, ok := loadSeed(keyName, errOut)
	if !ok {
		return nil, nil, false
	}
	led, closeFn, err := openLedger(backend)
	if err != nil {
		fmt.Fprintf(errOut, "ledger: %v\n", err)
		return nil, nil, false
	}
	eng, err := channel.NewAuthor(seed, led, channel.SingleBranch)
	if err != nil {
		fmt.Fprintf(errOut, "engine: %v\n", err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	blob, err := loadState(keyName)
	if err != nil {
		fmt.Fprintf(errOut, "load state for %q: %v\n", keyName, err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	if err := eng.ImportState(blob); err != nil {
		fmt.Fprintf(errOut, "import state: %v\n", err)
		closeLedger(closeFn)
		return nil, nil, false
	}
	author, err := eng.AuthorPublicKey()
	if err != nil || author != eng.PublicKey() {
		fmt.Fprintf(errOut, "key %q is not the author of this channel\n", keyName)
		closeLedger(closeFn)
		return nil, nil, false
	}
	return eng, closeFn, true
}

func closeLedger(closeFn func() error) {
	if closeFn != nil {
		_ = closeFn()
	}
}

func persist(keyName string, export func() ([]byte, error), errOut io.Writer) bool {
	blob, err := export()
	if err != nil {
		fmt.Fprintf(errOut, "export state: %v\n", err)
		return false
	}
	if err := saveState(keyName, blob); err != nil {
		fmt.Fprintf(errOut, "save state: %v\n", err)
		return false
	}
	return true
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: chan-cli key <init|list|export> ...")
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "Key name")
	seedHex := fs.String("seed-hex", "", "Optional identity seed as 64 hex chars")
	force := fs.Bool("force", false, "Overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}

	var seed []byte
	if *seedHex != "" {
		var err error
		seed, err = keys.ParseSeedHex(*seedHex)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
	}

	ks, err := keys.OpenKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	id, path, err := ks.Init(*name, seed, *force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	pub, err := keys.PublisherKeyString(id.PublicKey())
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created key: %s\n", pub)
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.OpenKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	names, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, name := range names {
		id, err := ks.Load(name)
		if err != nil {
			fmt.Fprintf(out, "%s\t(unreadable: %v)\n", name, err)
			continue
		}
		pub, _ := keys.PublisherKeyString(id.PublicKey())
		fmt.Fprintf(out, "%s\t%s\n", name, pub)
	}
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "Key name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, err := keys.OpenKeyStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	id, err := ks.Load(*name)
	if err != nil {
		fmt.Fprintf(errOut, "load key: %v\n", err)
		return 1
	}
	pub, err := keys.PublisherKeyString(id.PublicKey())
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, pub)
	return 0
}

func cmdAnnounce(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("announce", errOut)
	keyName := fs.String("key", "", "Key name")
	mode := fs.String("branching", "single", "Branching mode: single or multi")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var branching channel.Branching
	switch strings.ToLower(*mode) {
	case "single":
		branching = channel.SingleBranch
	case "multi":
		branching = channel.MultiBranch
	default:
		fmt.Fprintln(errOut, "invalid --branching (expected single or multi)")
		return 2
	}

	seed, ok := loadSeed(*keyName, errOut)
	if !ok {
		return 2
	}
	led, closeFn, err := openLedger(*backend)
	if err != nil {
		fmt.Fprintf(errOut, "ledger: %v\n", err)
		return 1
	}
	defer closeLedger(closeFn)

	author, err := channel.NewAuthor(seed, led, branching)
	if err != nil {
		fmt.Fprintf(errOut, "engine: %v\n", err)
		return 1
	}
	link, err := author.Announce(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "announce: %v\n", err)
		return 1
	}
	if !persist(*keyName, author.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

func cmdSubscribe(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("subscribe", errOut)
	keyName := fs.String("key", "", "Key name")
	channelLink := fs.String("channel", "", "Channel announcement link")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *channelLink == "" {
		fmt.Fprintln(errOut, "missing --channel")
		return 2
	}
	ann, err := address.Parse(*channelLink)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --channel: %v\n", err)
		return 2
	}

	seed, ok := loadSeed(*keyName, errOut)
	if !ok {
		return 2
	}
	led, closeFn, err := openLedger(*backend)
	if err != nil {
		fmt.Fprintf(errOut, "ledger: %v\n", err)
		return 1
	}
	defer closeLedger(closeFn)

	sub, err := channel.NewSubscriber(seed, led)
	if err != nil {
		fmt.Fprintf(errOut, "engine: %v\n", err)
		return 1
	}
	ctx := context.Background()
	if err := sub.ReceiveAnnouncement(ctx, ann); err != nil {
		fmt.Fprintf(errOut, "receive announcement: %v\n", err)
		return 1
	}
	link, err := sub.SendSubscribe(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "subscribe: %v\n", err)
		return 1
	}
	if !persist(*keyName, sub.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

func cmdUnsubscribe(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("unsubscribe", errOut)
	keyName := fs.String("key", "", "Key name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	link, err := eng.SendUnsubscribe(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "unsubscribe: %v\n", err)
		return 1
	}
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

func cmdReceive(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("receive", errOut)
	keyName := fs.String("key", "", "Key name")
	linkStr := fs.String("link", "", "Message link")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *linkStr == "" {
		fmt.Fprintln(errOut, "missing --link")
		return 2
	}
	link, err := address.Parse(*linkStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --link: %v\n", err)
		return 2
	}

	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	msg, err := eng.ReceiveMsg(context.Background(), link)
	if err != nil {
		fmt.Fprintf(errOut, "receive: %v\n", err)
		return 1
	}
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	printMessage(out, msg)
	return 0
}

func cmdKeyload(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("keyload", errOut)
	keyName := fs.String("key", "", "Key name")
	linkTo := fs.String("link-to", "", "Branch attachment link (defaults to the announcement)")
	everyone := fs.Bool("everyone", false, "Address every active subscriber and stored PSK")
	var recipients stringList
	var pskIDs stringList
	fs.Var(&recipients, "recipient", "Recipient publisher key ed25519:<base64> (repeatable)")
	fs.Var(&pskIDs, "psk-id", "Pre-shared key id as 32 hex chars (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*everyone && len(recipients) == 0 && len(pskIDs) == 0 {
		fmt.Fprintln(errOut, "missing recipients: use --everyone, --recipient, or --psk-id")
		return 2
	}

	var to address.Link
	if *linkTo != "" {
		var err error
		to, err = address.Parse(*linkTo)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --link-to: %v\n", err)
			return 2
		}
	}

	eng, closeFn, ok := loadAuthor(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	ctx := context.Background()
	var link address.Link
	var err error
	if *everyone {
		link, err = eng.SendKeyloadForEveryone(ctx, to)
	} else {
		var pubs []keys.PublisherID
		for _, r := range recipients {
			p, perr := keys.ParsePublisherKeyString(r)
			if perr != nil {
				fmt.Fprintf(errOut, "invalid --recipient %q: %v\n", r, perr)
				return 2
			}
			pubs = append(pubs, p)
		}
		var ids []keyload.PSKID
		for _, s := range pskIDs {
			id, perr := parsePSKID(s)
			if perr != nil {
				fmt.Fprintf(errOut, "invalid --psk-id %q: %v\n", s, perr)
				return 2
			}
			ids = append(ids, id)
		}
		link, err = eng.SendKeyload(ctx, to, pubs, ids)
	}
	if err != nil {
		fmt.Fprintf(errOut, "keyload: %v\n", err)
		return 1
	}
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

func cmdPSK(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("psk", errOut)
	keyName := fs.String("key", "", "Key name")
	secretHex := fs.String("secret-hex", "", "Pre-shared secret as 64 hex chars")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *secretHex == "" {
		fmt.Fprintln(errOut, "missing --secret-hex")
		return 2
	}
	raw, err := hex.DecodeString(strings.TrimSpace(*secretHex))
	if err != nil || len(raw) != keyload.SessionKeySize {
		fmt.Fprintf(errOut, "invalid --secret-hex (expected %d hex bytes)\n", keyload.SessionKeySize)
		return 2
	}
	var secret keyload.SessionKey
	copy(secret[:], raw)

	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	id := keyload.DerivePSKID(secret)
	eng.StorePSK(id, secret)
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, hex.EncodeToString(id[:]))
	return 0
}

func cmdSend(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("send", errOut)
	keyName := fs.String("key", "", "Key name")
	linkTo := fs.String("link-to", "", "Branch attachment link")
	tagged := fs.Bool("tagged", false, "Send an unsigned tagged packet instead of a signed one")
	public := fs.String("public", "", "Public payload text")
	masked := fs.String("masked", "", "Masked payload text")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *linkTo == "" {
		fmt.Fprintln(errOut, "missing --link-to")
		return 2
	}
	to, err := address.Parse(*linkTo)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --link-to: %v\n", err)
		return 2
	}

	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	ctx := context.Background()
	var link address.Link
	if *tagged {
		link, err = eng.SendTaggedPacket(ctx, to, []byte(*public), []byte(*masked))
	} else {
		link, err = eng.SendSignedPacket(ctx, to, []byte(*public), []byte(*masked))
	}
	if err != nil {
		fmt.Fprintf(errOut, "send: %v\n", err)
		return 1
	}
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

func cmdSync(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("sync", errOut)
	keyName := fs.String("key", "", "Key name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	msgs, faults, err := eng.SyncState(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "sync: %v\n", err)
		return 1
	}
	if !persist(*keyName, eng.ExportState, errOut) {
		return 1
	}
	for _, m := range msgs {
		printMessage(out, &m)
	}
	for _, f := range faults {
		fmt.Fprintf(errOut, "fault at %s: %v\n", f.Link, f.Err)
	}
	if len(faults) > 0 {
		return 1
	}
	return 0
}

func cmdHistory(args []string, out io.Writer, errOut io.Writer) int {
	fs, backend := newFlagSet("history", errOut)
	keyName := fs.String("key", "", "Key name")
	fromStr := fs.String("from", "", "Link to walk backward from")
	max := fs.Int("max", 10, "Maximum messages to return")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *fromStr == "" {
		fmt.Fprintln(errOut, "missing --from")
		return 2
	}
	from, err := address.Parse(*fromStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --from: %v\n", err)
		return 2
	}

	eng, closeFn, ok := loadSubscriber(*keyName, *backend, errOut)
	if !ok {
		return 1
	}
	defer closeLedger(closeFn)

	msgs, err := eng.FetchPrevMsgs(context.Background(), from, *max)
	if err != nil {
		fmt.Fprintf(errOut, "history: %v\n", err)
		return 1
	}
	for _, m := range msgs {
		printMessage(out, &m)
	}
	return 0
}

func printMessage(out io.Writer, m *channel.Message) {
	from, _ := keys.PublisherKeyString(m.From[:])
	fmt.Fprintf(out, "%s %s %s", m.Link, m.Type, from)
	if m.Skipped {
		fmt.Fprint(out, " (skipped)")
	}
	fmt.Fprintln(out)
	if len(m.Public) > 0 {
		fmt.Fprintf(out, "  public: %q\n", m.Public)
	}
	if len(m.Masked) > 0 {
		fmt.Fprintf(out, "  masked: %q\n", m.Masked)
	}
}

func parsePSKID(s string) (keyload.PSKID, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return keyload.PSKID{}, err
	}
	if len(raw) != keyload.PSKIDSize {
		return keyload.PSKID{}, fmt.Errorf("expected %d hex bytes", keyload.PSKIDSize)
	}
	var id keyload.PSKID
	copy(id[:], raw)
	return id, nil
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
