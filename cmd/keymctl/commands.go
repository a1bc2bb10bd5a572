package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Fe0mathar/KeyMaker/apikeys"
	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/vaultstats"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/urfave/cli"
)

// printJSON marshals the response with tab indentation and writes it to
// stdout.
func printJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		fatal(err)
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}

// actionDecorator attaches a hint to the well known vault errors returned
// by the command actions, pointing the user at the usual fix.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		err := f(c)
		switch {
		case errors.Is(err, vault.ErrAuthentication):
			return fmt.Errorf("%v\nThe passphrase does not "+
				"match this vault, check it and try again",
				err)

		case errors.Is(err, vault.ErrNotFound):
			return fmt.Errorf("%v\nRun 'keymctl create' to "+
				"initialize a vault first", err)
		}

		return err
	}
}

var createCommand = cli.Command{
	Name:     "create",
	Category: "Vault",
	Usage:    "Initialize a fresh vault.",
	Description: `
	The create command is used to initialize a new encrypted vault at the
	configured path.

	The passphrase is read from the terminal and the vault is sealed with
	a key derived from it. Every later command must present the same
	passphrase to read or modify the vault.`,
	Action: actionDecorator(create),
}

func create(ctx *cli.Context) error {
	vaultPath, _ := extractPathArgs(ctx)
	if _, err := os.Stat(vaultPath); err == nil {
		return fmt.Errorf("vault already exists at %v", vaultPath)
	}

	passphrase, err := readPassword("Input vault passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm passphrase: ")
	if err != nil {
		return err
	}
	if !bytes.Equal(passphrase, confirm) {
		return errors.New("passphrases don't match")
	}
	if len(passphrase) == 0 {
		return errors.New("passphrase must not be empty")
	}

	if err := os.MkdirAll(filepath.Dir(vaultPath), 0700); err != nil {
		return err
	}

	store := vault.NewStore(vaultPath, passphrase)
	defer store.Close()

	if err := store.Create(); err != nil {
		return err
	}

	fmt.Println("\nVault successfully initialized!")
	return nil
}

var validateCommand = cli.Command{
	Name:     "validate",
	Category: "Vault",
	Usage:    "Check that the vault decrypts with the given passphrase.",
	Action:   actionDecorator(validate),
}

func validate(ctx *cli.Context) error {
	store, cleanUp := getStore(ctx)
	defer cleanUp()

	if err := store.Validate(); err != nil {
		return err
	}

	records, err := store.Snapshot()
	if err != nil {
		return err
	}

	printJSON(struct {
		Path    string `json:"path"`
		Records int    `json:"records"`
	}{
		Path:    store.Path(),
		Records: len(records),
	})

	return nil
}

var walletCommand = cli.Command{
	Name:     "wallet",
	Category: "Wallets",
	Usage:    "Mint wallets into the vault.",
	Subcommands: []cli.Command{
		walletNewCommand,
		walletBatchCommand,
	},
}

var walletNewCommand = cli.Command{
	Name:  "new",
	Usage: "Mint a single wallet.",
	Description: `
	Mints one wallet protected by the given passphrase and appends its
	document to the vault. The wallet passphrase is independent of the
	vault passphrase.`,
	Action: actionDecorator(walletNew),
}

func walletNew(ctx *cli.Context) error {
	store, cleanUp := getStore(ctx)
	defer cleanUp()

	_, ledgerPath := extractPathArgs(ctx)
	manager := newWalletManager(store, ledgerPath)

	walletPass, err := readPassword("Wallet passphrase: ")
	if err != nil {
		return err
	}

	name, err := manager.CreateWallet(string(walletPass))
	if err != nil {
		return err
	}

	printJSON(struct {
		Wallet string `json:"wallet"`
	}{
		Wallet: wallet.StripRecordSuffix(name),
	})

	return nil
}

var walletBatchCommand = cli.Command{
	Name:      "batch",
	Usage:     "Mint a batch of wallets in one go.",
	ArgsUsage: "count",
	Description: `
	Mints count wallets protected by a shared passphrase, appending one
	document per wallet to the vault. An interrupt stops the batch at the
	next wallet boundary; wallets minted up to that point stay in the
	vault.`,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count, n",
			Usage: "the number of wallets to mint",
		},
	},
	Action: actionDecorator(walletBatch),
}

func walletBatch(ctx *cli.Context) error {
	ctxc := getContext()

	var (
		count int
		err   error
	)
	switch {
	case ctx.IsSet("count"):
		count = ctx.Int("count")
	case ctx.Args().Present():
		count, err = strconv.Atoi(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("unable to decode count: %v", err)
		}
	default:
		return fmt.Errorf("count argument missing")
	}
	if count < 1 {
		return fmt.Errorf("count must be positive, got %d", count)
	}

	store, cleanUp := getStore(ctx)
	defer cleanUp()

	_, ledgerPath := extractPathArgs(ctx)
	manager := newWalletManager(store, ledgerPath)

	walletPass, err := readPassword("Wallet passphrase: ")
	if err != nil {
		return err
	}

	names, err := manager.CreateWallets(
		ctxc, count, string(walletPass), nil,
	)
	if err != nil {
		return fmt.Errorf("created %d of %d wallets: %w",
			len(names), count, err)
	}

	wallets := make([]string, 0, len(names))
	for _, name := range names {
		wallets = append(wallets, wallet.StripRecordSuffix(name))
	}

	printJSON(struct {
		Wallets []string `json:"wallets"`
	}{
		Wallets: wallets,
	})

	return nil
}

var addressesCommand = cli.Command{
	Name:     "addresses",
	Category: "Wallets",
	Usage:    "Work with the addresses stored in the vault.",
	Subcommands: []cli.Command{
		addressesExportCommand,
	},
}

var addressesExportCommand = cli.Command{
	Name:  "export",
	Usage: "Write all wallet addresses to a plain text file.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name: "output, o",
			Usage: "the file the addresses are written to " +
				"(default: addresses.txt in the keymaker " +
				"directory)",
			TakesFile: true,
		},
	},
	Action: actionDecorator(addressesExport),
}

func addressesExport(ctx *cli.Context) error {
	ctxc := getContext()
	store, cleanUp := getStore(ctx)
	defer cleanUp()

	outPath := cleanAndExpandPath(ctx.String("output"))
	if outPath == "" {
		outPath = filepath.Join(
			cleanAndExpandPath(ctx.GlobalString("keymdir")),
			defaultExportFilename,
		)
	}

	exporter := wallet.NewExporter(store)
	count, err := exporter.ExportAddresses(ctxc, outPath, nil)
	if err != nil {
		return err
	}

	printJSON(struct {
		Exported int    `json:"exported"`
		Path     string `json:"path"`
	}{
		Exported: count,
		Path:     outPath,
	})

	return nil
}

var statsCommand = cli.Command{
	Name:     "stats",
	Category: "Vault",
	Usage:    "Show per-day wallet creation counts.",
	Action:   actionDecorator(stats),
}

func stats(ctx *cli.Context) error {
	store, cleanUp := getStore(ctx)
	defer cleanUp()

	volume, err := vaultstats.NewExtractor(store).WalletVolumeByDate()
	if err != nil {
		return err
	}

	type dateCount struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}

	resp := struct {
		Volume []dateCount `json:"volume"`
		Total  int         `json:"total_wallets"`
	}{
		Volume: make([]dateCount, 0, len(volume)),
	}
	for _, bucket := range volume {
		resp.Volume = append(resp.Volume, dateCount{
			Date:  bucket.Date,
			Count: bucket.Count,
		})
		resp.Total += bucket.Count
	}

	printJSON(resp)

	return nil
}

var apikeysCommand = cli.Command{
	Name:     "apikeys",
	Category: "Config",
	Usage:    "Manage the API credentials stored in the vault.",
	Subcommands: []cli.Command{
		apikeysListCommand,
		apikeysSetCommand,
	},
}

var apikeysListCommand = cli.Command{
	Name:   "list",
	Usage:  "List the stored API credentials.",
	Action: actionDecorator(apikeysList),
}

func apikeysList(ctx *cli.Context) error {
	store, cleanUp := getStore(ctx)
	defer cleanUp()

	keys, err := apikeys.NewManager(store).Load()
	if err != nil {
		return err
	}

	type apiKey struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	resp := struct {
		Keys []apiKey `json:"keys"`
	}{
		Keys: make([]apiKey, 0, keys.Len()),
	}
	for _, name := range keys.Names() {
		value, _ := keys.Get(name)
		resp.Keys = append(resp.Keys, apiKey{
			Name:  name,
			Value: value,
		})
	}

	printJSON(resp)

	return nil
}

var apikeysSetCommand = cli.Command{
	Name:      "set",
	Usage:     "Store one API credential in the vault.",
	ArgsUsage: "name value",
	Description: `
	Store a credential under one of the well known names, e.g.:

	keymctl apikeys set chatgpt sk-xxxx

	Accepted names: ` + strings.Join(slugNames(), ", ") + `.`,
	Action: actionDecorator(apikeysSet),
}

// slugNames returns the accepted credential names in sorted order.
func slugNames() []string {
	slugs := apikeys.Slugs()
	names := make([]string, 0, len(slugs))
	for slug := range slugs {
		names = append(names, slug)
	}
	sort.Strings(names)
	return names
}

func apikeysSet(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "set")
	}
	args := ctx.Args()

	label, ok := apikeys.Slugs()[strings.ToLower(args.First())]
	if !ok {
		return fmt.Errorf("unknown key name %q, expected one of %s",
			args.First(), strings.Join(slugNames(), ", "))
	}

	store, cleanUp := getStore(ctx)
	defer cleanUp()

	manager := apikeys.NewManager(store)
	keys, err := manager.Load()
	if err != nil {
		return err
	}
	keys.Set(label, args.Get(1))
	if err := manager.Save(keys); err != nil {
		return err
	}

	fmt.Printf("Stored %s.\n", label)

	return nil
}
