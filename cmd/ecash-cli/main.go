// ecash-cli is a command-line ecash wallet speaking the mint HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"syscall"

	"github.com/Klingon-tech/klingnet-ecash/config"
	"github.com/Klingon-tech/klingnet-ecash/internal/counter"
	"github.com/Klingon-tech/klingnet-ecash/internal/log"
	"github.com/Klingon-tech/klingnet-ecash/internal/mintclient"
	"github.com/Klingon-tech/klingnet-ecash/internal/storage"
	"github.com/Klingon-tech/klingnet-ecash/internal/wallet"
	"github.com/Klingon-tech/klingnet-ecash/pkg/cashu"
	"golang.org/x/term"
)

const version = "0.1.0"

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("ecash-cli %s\n", version)
		return
	}
	if flags.Help || len(flags.Args) == 0 {
		usage()
		if len(flags.Args) == 0 && !flags.Help {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fatal("%v", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	cmd := flags.Args[0]
	cmdArgs := flags.Args[1:]

	switch cmd {
	case "init":
		cmdInit(cfg, cmdArgs)
	case "import":
		cmdImport(cfg, cmdArgs)
	case "balance":
		cmdBalance(cfg)
	case "mint":
		cmdMint(cfg, cmdArgs)
	case "redeem":
		cmdRedeem(cfg, cmdArgs)
	case "send":
		cmdSend(cfg, cmdArgs)
	case "receive":
		cmdReceive(cfg, cmdArgs)
	case "melt":
		cmdMelt(cfg, cmdArgs)
	case "restore":
		cmdRestore(cfg)
	case "counters":
		cmdCounters(cfg)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ecash-cli [global flags] <command> [flags]

Global flags:
  --mint <url>        Mint base URL (overrides the stored one)
  --datadir <path>    Data directory (default: ~/.klingnet-ecash)
  --wallet <name>     Wallet name (default: default)
  --unit <unit>       Denomination unit (default: sat)
  --config <path>     Config file path
  --loglevel <level>  debug, info, warn, or error

Commands:
  init                            Create a new wallet (prints mnemonic)
  import --mnemonic "..."         Recreate a wallet from a mnemonic
  balance                         Show stored proof balance
  mint <amount>                   Request a mint quote (prints invoice)
  redeem <quote-id> <amount>      Redeem a paid mint quote into proofs
  send <amount> [--include-fees]  Prepare a token worth <amount>
  receive <token>                 Swap a received token into fresh proofs
  melt <invoice>                  Pay a bolt11 invoice with stored proofs
  restore                         Re-derive proofs from the seed via the mint
  counters                        Show deterministic-secret counter state
`)
}

// ── Wallet session ──────────────────────────────────────────────────────

// session bundles everything an online command needs: the engine, the
// proof store, and the open database (closed by the caller).
type session struct {
	wallet  *wallet.Wallet
	proofs  *wallet.ProofStore
	client  *mintclient.Client
	mintURL string
	db      storage.DB
	name    string
	ks      *wallet.Keystore
}

func (s *session) close() {
	if err := s.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: close proof db: %v\n", err)
	}
}

// openSession decrypts the named wallet and wires the engine to the
// mint and the on-disk stores.
func openSession(cfg *config.Config) *session {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}
	name := cfg.WalletName
	if !ks.Exists(name) {
		fatal("wallet %q not found (run 'ecash-cli init' first)", name)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	seed, storedMint, _, err := ks.Load(name, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}

	mintURL := cfg.Mint.URL
	if mintURL == "" {
		mintURL = storedMint
	}
	if mintURL == "" {
		fatal("no mint URL configured (pass --mint or set mint.url)")
	}
	cfg.Mint.URL = mintURL
	if err := config.Validate(cfg); err != nil {
		fatal("invalid configuration: %v", err)
	}

	db, err := storage.NewBadger(cfg.ProofDBDir())
	if err != nil {
		fatal("open proof db: %v", err)
	}

	client := mintclient.NewWithTimeout(mintURL, cfg.Mint.Timeout)
	counters := counter.NewStore(storage.NewPrefixDB(db, []byte("counters/")))
	w, err := wallet.New(wallet.Options{
		Client:   client,
		Unit:     cfg.Mint.Unit,
		Counters: counters,
		Seed:     seed,
	})
	if err != nil {
		fatal("open wallet: %v", err)
	}
	for i := range seed {
		seed[i] = 0
	}

	// Mirror counter reservations into the keystore file so a seed
	// backup restores without rescanning from zero.
	w.OnCountersReserved = func(counter.Operation) {
		snap, err := counter.Snapshot(counters)
		if err != nil {
			return
		}
		if err := ks.SaveCounters(name, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: save counter snapshot: %v\n", err)
		}
	}

	return &session{
		wallet:  w,
		proofs:  wallet.NewProofStore(storage.NewPrefixDB(db, []byte("proofs/"))),
		client:  client,
		mintURL: mintURL,
		db:      db,
		name:    name,
		ks:      ks,
	}
}

// ── init / import ───────────────────────────────────────────────────────

func cmdInit(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args)

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	createFromMnemonic(cfg, mnemonic)
}

func cmdImport(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: ecash-cli import --mnemonic \"...\"")
	}
	createFromMnemonic(cfg, *mnemonic)
	fmt.Println("Run 'ecash-cli restore' to recover proofs from the mint.")
}

func createFromMnemonic(cfg *config.Config, mnemonic string) {
	if cfg.Mint.URL == "" {
		fatal("a mint URL is required (pass --mint or set mint.url)")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		fatal("create keystore: %v", err)
	}
	if err := ks.Create(cfg.WalletName, cfg.Mint.URL, cfg.Mint.Unit, seed, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}
	for i := range seed {
		seed[i] = 0
	}

	fmt.Printf("\nWallet created: %s\n", cfg.WalletName)
	fmt.Printf("Mint: %s\n", cfg.Mint.URL)
}

// ── balance ─────────────────────────────────────────────────────────────

func cmdBalance(cfg *config.Config) {
	s := openSession(cfg)
	defer s.close()

	balance, err := s.proofs.Balance()
	if err != nil {
		fatal("read balance: %v", err)
	}
	fmt.Printf("Balance: %d %s\n", balance, s.wallet.Unit())
}

// ── mint / redeem ───────────────────────────────────────────────────────

func cmdMint(cfg *config.Config, args []string) {
	amount := parseAmountArg(args, "Usage: ecash-cli mint <amount>")

	s := openSession(cfg)
	defer s.close()

	client := s.client
	quote, err := client.MintQuote(context.Background(), amount, s.wallet.Unit())
	if err != nil {
		fatal("request mint quote: %v", err)
	}

	fmt.Printf("Quote:   %s\n", quote.Quote)
	fmt.Printf("Invoice: %s\n", quote.Request)
	fmt.Printf("\nPay the invoice, then run:\n  ecash-cli redeem %s %d\n", quote.Quote, amount)
}

func cmdRedeem(cfg *config.Config, args []string) {
	if len(args) != 2 {
		fatal("Usage: ecash-cli redeem <quote-id> <amount>")
	}
	quoteID := args[0]
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || amount == 0 {
		fatal("invalid amount: %s", args[1])
	}

	s := openSession(cfg)
	defer s.close()

	proofs, err := s.wallet.MintProofs(context.Background(), amount, quoteID, wallet.DeterministicPolicy{})
	if err != nil {
		fatal("mint proofs: %v", err)
	}
	if err := s.proofs.Put(proofs); err != nil {
		fatal("store proofs: %v", err)
	}
	fmt.Printf("Minted %d %s (%d proofs)\n", proofs.Amount(), s.wallet.Unit(), len(proofs))
}

// ── send / receive ──────────────────────────────────────────────────────

func cmdSend(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	includeFees := fs.Bool("include-fees", false, "Cover the receiver's swap fee")
	memo := fs.String("memo", "", "Token memo")
	if len(args) == 0 {
		fatal("Usage: ecash-cli send <amount> [--include-fees] [--memo <text>]")
	}
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || amount == 0 {
		fatal("invalid amount: %s", args[0])
	}
	fs.Parse(args[1:])

	s := openSession(cfg)
	defer s.close()

	stored, err := s.proofs.All()
	if err != nil {
		fatal("load proofs: %v", err)
	}

	resp, err := s.wallet.Send(context.Background(), wallet.SendRequest{
		Amount:      amount,
		Proofs:      stored,
		Policy:      wallet.DeterministicPolicy{},
		IncludeFees: *includeFees,
	})
	if err != nil {
		fatal("send: %v", err)
	}

	// Spent inputs leave the store; change and untouched proofs stay.
	if err := s.proofs.Delete(stored); err != nil {
		fatal("update proof store: %v", err)
	}
	if err := s.proofs.Put(resp.Keep); err != nil {
		fatal("update proof store: %v", err)
	}

	token := cashu.Token{
		Mint:   s.mintURL,
		Proofs: resp.Send,
		Unit:   s.wallet.Unit(),
		Memo:   *memo,
	}
	encoded, err := token.Serialize()
	if err != nil {
		fatal("serialize token: %v", err)
	}
	fmt.Println(encoded)
}

func cmdReceive(cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal("Usage: ecash-cli receive <token>")
	}
	token, err := cashu.ParseToken(args[0])
	if err != nil {
		fatal("parse token: %v", err)
	}

	s := openSession(cfg)
	defer s.close()

	proofs, err := s.wallet.Receive(context.Background(), token, wallet.DeterministicPolicy{})
	if err != nil {
		fatal("receive: %v", err)
	}
	if err := s.proofs.Put(proofs); err != nil {
		fatal("store proofs: %v", err)
	}
	fmt.Printf("Received %d %s (%d proofs)\n", proofs.Amount(), s.wallet.Unit(), len(proofs))
}

// ── melt ────────────────────────────────────────────────────────────────

func cmdMelt(cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal("Usage: ecash-cli melt <invoice>")
	}
	invoice := args[0]

	s := openSession(cfg)
	defer s.close()

	ctx := context.Background()
	client := s.client
	quote, err := client.MeltQuote(ctx, invoice, s.wallet.Unit())
	if err != nil {
		fatal("request melt quote: %v", err)
	}
	fmt.Printf("Quote: %d %s + %d fee reserve\n", quote.Amount, s.wallet.Unit(), quote.FeeReserve)

	stored, err := s.proofs.All()
	if err != nil {
		fatal("load proofs: %v", err)
	}
	sel, err := s.wallet.SelectProofsToSend(stored, quote.Amount+quote.FeeReserve, true, false)
	if err != nil {
		fatal("select proofs: %v", err)
	}

	resp, err := s.wallet.MeltProofs(ctx, quote, sel.Send, wallet.DeterministicPolicy{})
	if err != nil {
		fatal("melt: %v", err)
	}
	if resp.Result.State != mintclient.MeltStatePaid {
		fatal("melt not paid (state %s); proofs may be locked until the quote expires", resp.Result.State)
	}

	if err := s.proofs.Delete(sel.Send); err != nil {
		fatal("update proof store: %v", err)
	}
	if err := s.proofs.Put(resp.Change); err != nil {
		fatal("store change: %v", err)
	}

	fmt.Printf("Paid. Preimage: %s\n", resp.Result.Preimage)
	if change := resp.Change.Amount(); change > 0 {
		fmt.Printf("Change: %d %s\n", change, s.wallet.Unit())
	}
}

// ── restore / counters ──────────────────────────────────────────────────

func cmdRestore(cfg *config.Config) {
	s := openSession(cfg)
	defer s.close()

	ctx := context.Background()
	if err := s.wallet.LoadKeysets(ctx); err != nil {
		fatal("load keysets: %v", err)
	}

	keysets, err := s.client.Keysets(ctx)
	if err != nil {
		fatal("list keysets: %v", err)
	}

	var total uint64
	for _, ks := range keysets {
		if !ks.HasHexID() || ks.Unit != s.wallet.Unit() {
			continue
		}
		proofs, err := s.wallet.Restore(ctx, ks.ID)
		if err != nil {
			fatal("restore keyset %s: %v", ks.ID, err)
		}
		if len(proofs) == 0 {
			continue
		}
		if err := s.proofs.Put(proofs); err != nil {
			fatal("store proofs: %v", err)
		}
		total += proofs.Amount()
		fmt.Printf("Keyset %s: recovered %d proofs\n", ks.ID, len(proofs))
	}
	fmt.Printf("Restored %d %s\n", total, s.wallet.Unit())
}

func cmdCounters(cfg *config.Config) {
	s := openSession(cfg)
	defer s.close()

	snap, err := counter.Snapshot(s.wallet.Counters())
	if err != nil {
		fatal("read counters: %v", err)
	}
	if len(snap) == 0 {
		fmt.Println("No counters reserved yet.")
		return
	}
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%s  next=%d\n", id, snap[id])
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func parseAmountArg(args []string, usageMsg string) uint64 {
	if len(args) != 1 {
		fatal("%s", usageMsg)
	}
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || amount == 0 {
		fatal("invalid amount: %s", args[0])
	}
	return amount
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
