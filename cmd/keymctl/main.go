// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2022 The Lightning Network Developers

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Fe0mathar/KeyMaker/build"
	"github.com/Fe0mathar/KeyMaker/keymint"
	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const (
	defaultExportFilename = "addresses.txt"
)

var (
	defaultKeymDir   = btcutil.AppDataDir("keymaker", false)
	defaultVaultPath = filepath.Join(
		defaultKeymDir, vault.DefaultVaultFileName,
	)
	defaultLedgerPath = filepath.Join(
		defaultKeymDir, wallet.DefaultLedgerFileName,
	)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[keymctl] %v\n", err)
	os.Exit(1)
}

// getContext returns a context that is canceled once the process receives
// an interrupt signal, so in-flight bulk operations stop at the next unit
// boundary. The handler is only installed for commands that ask for a
// context; everything else keeps the default interrupt behavior.
func getContext() context.Context {
	ctxc, cancel := context.WithCancel(context.Background())

	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interruptChannel
		cancel()
	}()
	return ctxc
}

// getStore prompts for the vault passphrase and binds a store to the
// configured vault path. The returned cleanup function must be called once
// the store is no longer needed.
func getStore(ctx *cli.Context) (*vault.Store, func()) {
	vaultPath, _ := extractPathArgs(ctx)

	passphrase, err := readPassword("Vault passphrase: ")
	if err != nil {
		fatal(fmt.Errorf("unable to read passphrase: %v", err))
	}

	store := vault.NewStore(vaultPath, passphrase)
	cleanUp := func() {
		store.Close()
	}

	return store, cleanUp
}

// newWalletManager assembles the wallet manager used by the wallet
// subcommands.
func newWalletManager(store *vault.Store, ledgerPath string) *wallet.Manager {
	kdf := keymint.DefaultKDFParams()
	return wallet.NewManager(wallet.ManagerConfig{
		Vault:  store,
		Minter: keymint.NewSecpMinter(kdf),
		Ledger: wallet.NewLedger(ledgerPath, nil),
		KDF:    kdf,
	})
}

// extractPathArgs parses the vault and ledger paths from the global
// options.
func extractPathArgs(ctx *cli.Context) (string, string) {
	// We'll now fetch the keymdir so we can make a decision on how to
	// properly read the vault and ledger files. This will either be the
	// default, or will have been overwritten by the end user.
	keymDir := cleanAndExpandPath(ctx.GlobalString("keymdir"))
	vaultPath := cleanAndExpandPath(ctx.GlobalString("vaultpath"))
	ledgerPath := cleanAndExpandPath(ctx.GlobalString("ledgerpath"))

	// If a custom keymaker directory was set, we'll also check if custom
	// paths for the vault and ledger files were set as well. If not,
	// we'll override their paths so they can be found within the custom
	// keymaker directory set.
	if keymDir != defaultKeymDir {
		if vaultPath == defaultVaultPath {
			vaultPath = filepath.Join(
				keymDir, vault.DefaultVaultFileName,
			)
		}
		if ledgerPath == defaultLedgerPath {
			ledgerPath = filepath.Join(
				keymDir, wallet.DefaultLedgerFileName,
			)
		}
	}

	return vaultPath, ledgerPath
}

func main() {
	app := cli.NewApp()
	app.Name = "keymctl"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "control plane for your KeyMaker vault"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "keymdir",
			Value:     defaultKeymDir,
			Usage:     "The path to keymaker's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "vaultpath",
			Value:     defaultVaultPath,
			Usage:     "The path to the encrypted vault file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "ledgerpath",
			Value:     defaultLedgerPath,
			Usage:     "The path to the plain text passphrase ledger.",
			TakesFile: true,
		},
	}
	app.Commands = []cli.Command{
		createCommand,
		validateCommand,
		walletCommand,
		addressesCommand,
		statsCommand,
		apikeysCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// readPassword reads a password from the terminal. This requires there to
// be an actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// The variable syscall.Stdin is of a different type in the Windows
	// API that's why we need the explicit cast.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()
	return pw, err
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
