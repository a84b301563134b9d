package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libsv/go-bt/v2"
	"github.com/rs/zerolog"

	"xdao.co/sealvault/chain"
	"xdao.co/sealvault/chain/grpcoracle"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/ledger"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/secrets"
	"xdao.co/sealvault/stash"
	"xdao.co/sealvault/storage"
	"xdao.co/sealvault/storage/localfs"
	"xdao.co/sealvault/transfer"
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
	case "issue":
		return cmdIssue(args[1:], out, errOut)
	case "contracts":
		return cmdContracts(args[1:], out, errOut)
	case "balance":
		return cmdBalance(args[1:], out, errOut)
	case "blind":
		return cmdBlind(args[1:], out, errOut)
	case "transfer":
		return cmdTransfer(args[1:], out, errOut)
	case "validate":
		return cmdValidate(args[1:], out, errOut)
	case "accept":
		return cmdAccept(args[1:], out, errOut)
	case "enclose":
		return cmdEnclose(args[1:], out, errOut)
	case "wait":
		return cmdWait(args[1:], out, errOut)
	case "export-genesis":
		return cmdExportGenesis(args[1:], out, errOut)
	case "import-genesis":
		return cmdImportGenesis(args[1:], out, errOut)
	case "signer-init":
		return cmdSignerInit(args[1:], out, errOut)
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
	fmt.Fprintln(w, "sealvault: client-side-validated asset vault CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sealvault issue --vault <dir> --name <n> --ticker <t> [--schema fungible] --alloc <method:txid:vout=amount> [--alloc ...]")
	fmt.Fprintln(w, "  sealvault contracts --vault <dir>")
	fmt.Fprintln(w, "  sealvault balance --vault <dir> --contract <cid> --seal <method:txid:vout> [--seal ...]")
	fmt.Fprintln(w, "  sealvault blind --vault <dir> --contract <cid> --seal <method:txid:vout>")
	fmt.Fprintln(w, "  sealvault transfer --vault <dir> --contract <cid> --input <seal> [--input ...] --to <blind> --amount <n> [--change <seal>] --oracle <addr> --consignment-out <file> --disclosure-out <file> [--template-out <file>] [--signer <name>]")
	fmt.Fprintln(w, "  sealvault validate --vault <dir> --consignment <file> --oracle <addr>")
	fmt.Fprintln(w, "  sealvault accept --vault <dir> --consignment <file> --claim <method:txid:vout> --oracle <addr>")
	fmt.Fprintln(w, "  sealvault enclose --vault <dir> --disclosure <file>")
	fmt.Fprintln(w, "  sealvault wait --oracle <addr> --txid <txid> [--attempts <n>] [--delay <d>]")
	fmt.Fprintln(w, "  sealvault export-genesis --vault <dir> --contract <cid> [-o <file>]")
	fmt.Fprintln(w, "  sealvault import-genesis --vault <dir> <file>")
	fmt.Fprintln(w, "  sealvault signer-init --vault <dir> --name <n> [--seed-hex <64hex>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - a vault dir holds blocks/, index.json and secrets/ (0600 files)")
	fmt.Fprintln(w, "  - --mirror-dir on mutating commands replicates blocks to a second directory")
	fmt.Fprintln(w, "  - transfer writes the unsigned witness template; sign and broadcast it")
	fmt.Fprintln(w, "    without reordering outputs, then feed the txid to your oracle")
}

// stringList is a repeatable flag value.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func vaultFlags(fs *flag.FlagSet) (vaultDir, mirrorDir *string) {
	vaultDir = fs.String("vault", "", "vault directory")
	mirrorDir = fs.String("mirror-dir", "", "optional mirror directory for block replication")
	return
}

func openVault(vaultDir, mirrorDir string) (*stash.Stash, *secrets.Store, error) {
	if vaultDir == "" {
		return nil, nil, fmt.Errorf("--vault is required")
	}
	primary, err := localfs.New(filepath.Join(vaultDir, "blocks"))
	if err != nil {
		return nil, nil, err
	}
	var cas storage.CAS = primary
	if mirrorDir != "" {
		mirror, err := localfs.New(mirrorDir)
		if err != nil {
			return nil, nil, err
		}
		cas = storage.ReplicatingCAS{Backends: []storage.NamedCAS{
			{Name: "vault", CAS: primary},
			{Name: "mirror", CAS: mirror},
		}}
	}
	st, err := stash.Open(cas, filepath.Join(vaultDir, "index.json"))
	if err != nil {
		return nil, nil, err
	}
	sec, err := secrets.Open(filepath.Join(vaultDir, "secrets"))
	if err != nil {
		return nil, nil, err
	}
	return st, sec, nil
}

func dialOracle(addr string) (chain.ConfirmationOracle, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}
	c, err := grpcoracle.Dial(addr, grpcoracle.DialOptions{Timeout: 10 * time.Second})
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func newLogger(errOut io.Writer, verbose bool) zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: errOut}).With().Timestamp().Logger()
}

func cmdIssue(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	name := fs.String("name", "", "asset name")
	ticker := fs.String("ticker", "", "asset ticker")
	schemaTag := fs.String("schema", "fungible", "value schema")
	var allocs stringList
	fs.Var(&allocs, "alloc", "allocation as method:txid:vout=amount (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	var allocations []contract.Allocation
	for _, a := range allocs {
		sealStr, amountStr, ok := strings.Cut(a, "=")
		if !ok {
			fmt.Fprintf(errOut, "bad --alloc %q\n", a)
			return 2
		}
		r, err := seal.ParseRevealed(sealStr)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		amount, err := strconv.ParseUint(amountStr, 10, 64)
		if err != nil {
			fmt.Fprintf(errOut, "bad amount %q\n", amountStr)
			return 2
		}
		allocations = append(allocations, contract.Allocation{Seal: r, Amount: amount})
	}

	engine := transfer.New(st, sec, nil)
	id, err := engine.Issue(*name, *ticker, *schemaTag, allocations)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdContracts(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("contracts", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, _, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	for _, s := range st.ListContracts() {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Name, s.Ticker, s.Schema, s.Supply)
	}
	return 0
}

func cmdBalance(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	contractStr := fs.String("contract", "", "contract id")
	var seals stringList
	fs.Var(&seals, "seal", "owned seal as method:txid:vout (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, _, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, err := parseContract(*contractStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	owned := make([]seal.Revealed, 0, len(seals))
	for _, s := range seals {
		r, err := seal.ParseRevealed(s)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		owned = append(owned, r)
	}
	balance, err := ledger.Balance(st, id, owned)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, balance)
	return 0
}

func cmdBlind(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("blind", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	contractStr := fs.String("contract", "", "contract id")
	sealStr := fs.String("seal", "", "own outpoint seal as method:txid:vout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, err := parseContract(*contractStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	r, err := seal.ParseRevealed(*sealStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	engine := transfer.New(st, sec, nil)
	blind, err := engine.Blind(id, r.Method, r.Outpoint)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, blind)
	return 0
}

// templateBroadcaster is the CLI's dev-mode witness publisher: it writes
// the unsigned template for an external wallet and identifies the witness
// by the template's txid. On regtest the template can be funded and signed
// without changing inputs/outputs, keeping the txid stable enough for the
// static oracle workflow.
type templateBroadcaster struct {
	path string
	out  io.Writer
}

func (b templateBroadcaster) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	_ = ctx
	if b.path != "" {
		if err := os.WriteFile(b.path, []byte(hex.EncodeToString(rawTx)+"\n"), 0o644); err != nil {
			return "", err
		}
	}
	txid, err := txidOf(rawTx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(b.out, "witness template txid %s\n", txid)
	return txid, nil
}

func cmdTransfer(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	contractStr := fs.String("contract", "", "contract id")
	var inputs stringList
	fs.Var(&inputs, "input", "input seal as method:txid:vout (repeatable)")
	to := fs.String("to", "", "recipient blind seal (hex)")
	amount := fs.Uint64("amount", 0, "amount to send")
	changeStr := fs.String("change", "", "change seal as method:txid:vout")
	oracleAddr := fs.String("oracle", "", "confirmation oracle address")
	consignmentOut := fs.String("consignment-out", "", "consignment output file")
	disclosureOut := fs.String("disclosure-out", "", "disclosure output file")
	templateOut := fs.String("template-out", "", "witness template output file (hex)")
	signer := fs.String("signer", "", "signing seed name for the consignment")
	verbose := fs.Bool("verbose", false, "log progress")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *consignmentOut == "" || *disclosureOut == "" {
		fmt.Fprintln(errOut, "--consignment-out and --disclosure-out are required")
		return 2
	}

	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, err := parseContract(*contractStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	oracle, closeOracle, err := dialOracle(*oracleAddr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeOracle()

	params := transfer.TransferParams{ContractID: id, SendAmount: *amount}
	for _, in := range inputs {
		r, err := seal.ParseRevealed(in)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		params.Inputs = append(params.Inputs, r)
	}
	if params.RecipientBlind, err = seal.ParseBlind(*to); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if *changeStr != "" {
		change, err := seal.ParseRevealed(*changeStr)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		params.ChangeSeal = &change
	}

	opts := []transfer.Option{
		transfer.WithBroadcaster(templateBroadcaster{path: *templateOut, out: errOut}),
		transfer.WithLogger(newLogger(errOut, *verbose)),
	}
	if *signer != "" {
		opts = append(opts, transfer.WithSigner(*signer))
	}
	engine := transfer.New(st, sec, oracle, opts...)

	result, err := engine.Transfer(context.Background(), params)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := os.WriteFile(*consignmentOut, result.Consignment, 0o644); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := os.WriteFile(*disclosureOut, result.Disclosure, 0o644); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "transition %s\nanchor %s\ntxid %s\n", result.TransitionID, result.AnchorID, result.Txid)
	return 0
}

func cmdValidate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	file := fs.String("consignment", "", "consignment file")
	oracleAddr := fs.String("oracle", "", "confirmation oracle address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	oracle, closeOracle, err := dialOracle(*oracleAddr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeOracle()

	engine := transfer.New(st, sec, oracle)
	report := engine.Validate(context.Background(), data)
	for _, f := range report.Failures {
		fmt.Fprintf(out, "FAIL %s\n", f)
	}
	for _, txid := range report.UnresolvedTxids {
		fmt.Fprintf(out, "UNRESOLVED %s\n", txid)
	}
	for _, txid := range report.AcceptedTxids {
		fmt.Fprintf(out, "ACCEPTED %s\n", txid)
	}
	if !report.OK() {
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

func cmdAccept(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	file := fs.String("consignment", "", "consignment file")
	claimStr := fs.String("claim", "", "claimed outpoint seal as method:txid:vout")
	oracleAddr := fs.String("oracle", "", "confirmation oracle address")
	verbose := fs.Bool("verbose", false, "log progress")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	claimed, err := seal.ParseRevealed(*claimStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	oracle, closeOracle, err := dialOracle(*oracleAddr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeOracle()

	engine := transfer.New(st, sec, oracle, transfer.WithLogger(newLogger(errOut, *verbose)))
	report, err := engine.Accept(context.Background(), data, claimed)
	if err != nil {
		for _, f := range report.Failures {
			fmt.Fprintf(errOut, "FAIL %s\n", f)
		}
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, "accepted")
	return 0
}

func cmdEnclose(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("enclose", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	file := fs.String("disclosure", "", "disclosure file")
	verbose := fs.Bool("verbose", false, "log progress")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	engine := transfer.New(st, sec, nil, transfer.WithLogger(newLogger(errOut, *verbose)))
	if err := engine.Enclose(context.Background(), data); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, "enclosed")
	return 0
}

func cmdWait(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	fs.SetOutput(errOut)
	oracleAddr := fs.String("oracle", "", "confirmation oracle address")
	txid := fs.String("txid", "", "witness txid")
	attempts := fs.Int("attempts", 10, "poll attempts")
	delay := fs.Duration("delay", 2*time.Second, "delay between attempts")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	oracle, closeOracle, err := dialOracle(*oracleAddr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer closeOracle()
	if oracle == nil {
		fmt.Fprintln(errOut, "--oracle is required")
		return 2
	}

	outcome, err := transfer.Poll(context.Background(), *attempts, *delay, func(ctx context.Context) (bool, error) {
		status, err := oracle.Confirmation(ctx, *txid)
		if err != nil {
			return false, nil
		}
		return status.Confirmed(1), nil
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, outcome)
	if outcome != transfer.PollSucceeded {
		return 1
	}
	return 0
}

func cmdExportGenesis(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export-genesis", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	contractStr := fs.String("contract", "", "contract id")
	outFile := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, _, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, err := parseContract(*contractStr)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	data, err := st.ExportGenesis(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if *outFile == "" {
		_, _ = out.Write(data)
		return 0
	}
	if err := os.WriteFile(*outFile, data, 0o644); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdImportGenesis(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import-genesis", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: sealvault import-genesis --vault <dir> <file>")
		return 2
	}
	st, _, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, err := st.ImportGenesis(data)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdSignerInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("signer-init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	vaultDir, mirrorDir := vaultFlags(fs)
	name := fs.String("name", "", "signing seed name")
	seedHex := fs.String("seed-hex", "", "32-byte ed25519 seed in hex (generated when absent)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	_, sec, err := openVault(*vaultDir, *mirrorDir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	var seed []byte
	if *seedHex != "" {
		if seed, err = hex.DecodeString(strings.TrimPrefix(*seedHex, "0x")); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	} else {
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	if err := sec.SaveSigningSeed(*name, seed); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	fmt.Fprintf(out, "ed25519:%s\n", hex.EncodeToString(pub))
	return 0
}

func parseContract(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, fmt.Errorf("--contract is required")
	}
	return contentid.Parse(s)
}

func txidOf(rawTx []byte) (string, error) {
	tx, err := bt.NewTxFromBytes(rawTx)
	if err != nil {
		return "", err
	}
	return tx.TxID(), nil
}
