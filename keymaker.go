package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Fe0mathar/KeyMaker/apikeys"
	"github.com/Fe0mathar/KeyMaker/build"
	"github.com/Fe0mathar/KeyMaker/console"
	"github.com/Fe0mathar/KeyMaker/keymint"
	"github.com/Fe0mathar/KeyMaker/nodeshell"
	"github.com/Fe0mathar/KeyMaker/signal"
	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/vaultstats"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/term"
)

// chatSwitch lets the chat backend be swapped while the console is running,
// e.g. right after the user stores a fresh API key.
type chatSwitch struct {
	mtx   sync.Mutex
	inner console.ChatCompleter
}

func (c *chatSwitch) set(inner console.ChatCompleter) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.inner = inner
}

// Complete hands the prompt to the configured backend, or explains how to
// configure one.
func (c *chatSwitch) Complete(ctx context.Context, prompt string) (string,
	error) {

	c.mtx.Lock()
	inner := c.inner
	c.mtx.Unlock()

	if inner == nil {
		return "", errors.New("no chat backend configured, store a " +
			"ChatGPT API key first (api keys set chatgpt <key>)")
	}
	return inner.Complete(ctx, prompt)
}

// nodeHolder guards the lazily started node shell so the shutdown path and
// the console handlers can share it.
type nodeHolder struct {
	mtx   sync.Mutex
	shell *nodeshell.Shell
}

func (h *nodeHolder) get() *nodeshell.Shell {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return h.shell
}

func (h *nodeHolder) set(shell *nodeshell.Shell) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.shell = shell
}

func (h *nodeHolder) close() {
	h.mtx.Lock()
	shell := h.shell
	h.shell = nil
	h.mtx.Unlock()

	if shell != nil {
		shell.Close()
	}
}

// promptPassphrase reads a passphrase from the terminal without echoing it.
func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("unable to read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}

	return passphrase, nil
}

// zeroBytes writes zeroes over the passed buffer.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// newProgressBar returns a progress bar on stdout with the standard redraw
// interval.
func newProgressBar() *console.ProgressBar {
	return console.NewProgressBar(
		os.Stdout, ticker.New(console.DefaultSpinInterval),
	)
}

// keymakerMain is the true entry point for keymaker. It's called by main in
// a nested manner so the defers run during a graceful shutdown.
func keymakerMain() error {
	// Load the configuration, and parse any command line options. This
	// also initializes logging and configures it accordingly.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	keymLog.Infof("Version %s", build.Version())

	console.PrintBanner(os.Stdout, build.Version())

	// The vault passphrase is read before anything else; every other
	// component hangs off the unlocked store.
	passphrase, err := promptPassphrase("Vault passphrase: ")
	if err != nil {
		return err
	}

	store := vault.NewStore(
		cfg.VaultPath, passphrase,
		vault.WithScryptParams(vault.ScryptParams{
			N: uint32(cfg.ScryptN),
			R: uint8(cfg.ScryptR),
			P: uint8(cfg.ScryptP),
		}),
	)
	defer store.Close()

	if _, err := os.Stat(cfg.VaultPath); os.IsNotExist(err) {
		fmt.Printf("No vault found at %s, creating a fresh one.\n",
			cfg.VaultPath)
		if err := store.Create(); err != nil {
			return fmt.Errorf("unable to create vault: %w", err)
		}
	} else {
		unlock := console.NewUnlockSpinner("Unlocking vault...")
		unlock.Start()
		err := store.Validate()
		unlock.Stop()

		switch {
		case errors.Is(err, vault.ErrAuthentication):
			return errors.New("wrong passphrase for vault")

		case errors.Is(err, vault.ErrCorruptArchive):
			return fmt.Errorf("vault file is damaged: %v", err)

		case err != nil:
			return fmt.Errorf("unable to open vault: %w", err)
		}

		keymLog.Infof("Vault validated at %s", store.Path())
	}

	// Wire up the managers around the unlocked store.
	kdf := keymint.KDFParams{
		N: cfg.ScryptN,
		R: cfg.ScryptR,
		P: cfg.ScryptP,
	}
	manager := wallet.NewManager(wallet.ManagerConfig{
		Vault:  store,
		Minter: keymint.NewSecpMinter(kdf),
		Ledger: wallet.NewLedger(cfg.LedgerPath, nil),
		KDF:    kdf,
	})
	exporter := wallet.NewExporter(store)
	keys := apikeys.NewManager(store)
	stats := vaultstats.NewExtractor(store)

	// The chat assistant only comes alive once a ChatGPT API key is
	// stored in the vault.
	chat := &chatSwitch{}
	if loaded, err := keys.Load(); err == nil {
		apiKey, ok := loaded.Get(apikeys.KeyChatGPT)
		if ok && apiKey != "" {
			chat.set(console.NewChatClient(console.ChatCredentials{
				APIKey: apiKey,
				Model:  cfg.ChatModel,
			}))
			keymLog.Info("Chat assistant enabled")
		}
	} else {
		keymLog.Warnf("Unable to load API keys: %v", err)
	}

	// Cancel in-flight bulk operations when an interrupt arrives.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-signal.ShutdownChannel()
		cancel()
	}()

	node := &nodeHolder{}
	defer node.close()

	cons := console.New(console.Config{
		In:        os.Stdin,
		Out:       os.Stdout,
		Completer: chat,
	})

	register := func(cmd console.Command) {
		// The phrase table is static, so a clash here is a
		// programming error.
		if err := cons.Register(cmd); err != nil {
			panic(err)
		}
	}

	register(console.Command{
		Name:     "make wallets",
		Synonyms: []string{"create wallets", "generate"},
		Help: "Mint new wallets into the vault: " +
			"make wallets <count>",
		Run: func(args []string) error {
			return runMakeWallets(ctx, manager, args)
		},
	})
	register(console.Command{
		Name:     "export addresses",
		Synonyms: []string{"export"},
		Help: "Write all wallet addresses to a text file: " +
			"export addresses [path]",
		Run: func(args []string) error {
			outPath := cfg.ExportPath
			if len(args) > 0 {
				outPath = CleanAndExpandPath(args[0])
			}

			bar := newProgressBar()
			bar.Start()
			count, err := exporter.ExportAddresses(
				ctx, outPath, bar.Update,
			)
			bar.Stop()
			if err != nil {
				return err
			}

			fmt.Printf("Exported %d addresses to %s\n",
				count, outPath)
			return nil
		},
	})
	register(console.Command{
		Name:     "show stats",
		Synonyms: []string{"stats"},
		Help:     "Show how many wallets were created per day.",
		Run: func([]string) error {
			return runShowStats(stats)
		},
	})
	register(console.Command{
		Name:     "api keys",
		Synonyms: []string{"keys"},
		Help: "List or store API credentials: " +
			"api keys [set <name> <value>]",
		Run: func(args []string) error {
			return runAPIKeys(cfg, keys, chat, args)
		},
	})
	register(console.Command{
		Name:     "open node",
		Synonyms: []string{"start node"},
		Help:     "Launch the blockchain node console process.",
		Run: func([]string) error {
			if node.get() != nil {
				fmt.Println("Node console already running.")
				return nil
			}

			shell := nodeshell.NewShell(nodeshell.Config{
				Command:         strings.Fields(cfg.NodeCommand),
				ResponseTimeout: cfg.NodeTimeout,
			})
			if err := shell.Start(); err != nil {
				return err
			}
			node.set(shell)

			fmt.Printf("Node console started: %s\n", cfg.NodeCommand)
			fmt.Println("Use \"node <command>\" to talk to it, " +
				"\"node tail\" for recent output.")
			return nil
		},
	})
	register(console.Command{
		Name: "node",
		Help: "Send a command to the node console: node <command>",
		Run: func(args []string) error {
			return runNodeCommand(node, args)
		},
	})

	fmt.Printf("Vault ready at %s. Type \"help\" for commands.\n\n",
		store.Path())

	// Run the console until it exits or an interrupt tears everything
	// down.
	consoleErr := make(chan error, 1)
	go func() {
		consoleErr <- cons.Run(ctx)
	}()

	select {
	case err := <-consoleErr:
		return err

	case <-signal.ShutdownChannel():
		keymLog.Info("Shutdown complete")
		return nil
	}
}

// runMakeWallets parses the count, prompts for the wallet passphrase and
// mints the wallets with a live progress bar.
func runMakeWallets(ctx context.Context, manager *wallet.Manager,
	args []string) error {

	if len(args) != 1 {
		return errors.New("usage: make wallets <count>")
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		return fmt.Errorf("wallet count must be a positive number, "+
			"got %q", args[0])
	}

	walletPass, err := promptPassphrase("Wallet passphrase: ")
	if err != nil {
		return err
	}
	defer zeroBytes(walletPass)

	bar := newProgressBar()
	bar.Start()
	names, err := manager.CreateWallets(
		ctx, count, string(walletPass), bar.Update,
	)
	bar.Stop()

	if err != nil {
		return fmt.Errorf("created %d of %d wallets: %w",
			len(names), count, err)
	}

	fmt.Printf("Created %d wallets:\n", len(names))
	for _, name := range names {
		fmt.Printf("  %s\n", wallet.StripRecordSuffix(name))
	}
	return nil
}

// runShowStats prints the per-day wallet creation histogram.
func runShowStats(stats *vaultstats.Extractor) error {
	volume, err := stats.WalletVolumeByDate()
	if err != nil {
		return err
	}
	if len(volume) == 0 {
		fmt.Println("No wallets in the vault yet.")
		return nil
	}

	statLog.Debugf("Wallet volume: %v", newLogClosure(func() string {
		return spew.Sdump(volume)
	}))

	total := 0
	for _, bucket := range volume {
		bars := bucket.Count
		if bars > 40 {
			bars = 40
		}
		fmt.Printf("  %s  %-40s %d\n", bucket.Date,
			strings.Repeat("#", bars), bucket.Count)
		total += bucket.Count
	}
	fmt.Printf("Total wallets: %d\n", total)
	return nil
}

// runAPIKeys lists the stored credentials or stores a new one.
func runAPIKeys(cfg *Config, keys *apikeys.Manager, chat *chatSwitch,
	args []string) error {

	if len(args) == 0 || strings.ToLower(args[0]) == "list" {
		loaded, err := keys.Load()
		if err != nil {
			return err
		}
		if loaded.Len() == 0 {
			fmt.Println("No API keys stored yet.")
			return nil
		}
		for _, name := range loaded.Names() {
			value, _ := loaded.Get(name)
			fmt.Printf("  %s: %s\n", name, value)
		}
		return nil
	}

	if strings.ToLower(args[0]) != "set" || len(args) != 3 {
		return errors.New("usage: api keys [set <name> <value>]")
	}

	slugs := apikeys.Slugs()
	label, ok := slugs[strings.ToLower(args[1])]
	if !ok {
		names := make([]string, 0, len(slugs))
		for slug := range slugs {
			names = append(names, slug)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown key name %q, expected one of %s",
			args[1], strings.Join(names, ", "))
	}
	value := args[2]

	loaded, err := keys.Load()
	if err != nil {
		return err
	}
	loaded.Set(label, value)
	if err := keys.Save(loaded); err != nil {
		return err
	}

	fmt.Printf("Stored %s.\n", label)

	// A fresh ChatGPT key switches on the assistant right away.
	if label == apikeys.KeyChatGPT && value != "" {
		chat.set(console.NewChatClient(console.ChatCredentials{
			APIKey: value,
			Model:  cfg.ChatModel,
		}))
		fmt.Println("Chat assistant enabled.")
	}
	return nil
}

// runNodeCommand relays a command line to the running node console.
func runNodeCommand(node *nodeHolder, args []string) error {
	shell := node.get()
	if shell == nil {
		return errors.New("node console not running, " +
			"use \"open node\" first")
	}
	if len(args) == 0 {
		return errors.New("usage: node <command>")
	}

	if strings.ToLower(args[0]) == "tail" {
		for _, line := range shell.Tail() {
			fmt.Println(line)
		}
		return nil
	}

	// Opening a wallet needs the interactive passphrase flow.
	if len(args) == 3 && strings.ToLower(args[0]) == "open" &&
		strings.ToLower(args[1]) == "wallet" {

		walletPass, err := promptPassphrase("Node wallet passphrase: ")
		if err != nil {
			return err
		}
		defer zeroBytes(walletPass)

		lines, err := shell.OpenWallet(args[2], walletPass)
		for _, line := range lines {
			fmt.Println(line)
		}
		return err
	}

	lines, err := shell.Run(strings.Join(args, " "))
	for _, line := range lines {
		fmt.Println(line)
	}
	return err
}

// main wraps keymakerMain so the defers run before the process exits.
func main() {
	if err := keymakerMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
