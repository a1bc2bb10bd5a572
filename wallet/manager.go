package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fe0mathar/KeyMaker/keymint"
	"github.com/Fe0mathar/KeyMaker/vault"
)

// Vault is the slice of the encrypted archive store the wallet layers
// need. *vault.Store satisfies it.
type Vault interface {
	// ListNames enumerates record names matching the filter in archive
	// order.
	ListNames(filter func(string) bool) ([]string, error)

	// AppendRecord adds a new named record, failing with
	// vault.DuplicateNameError if the name exists.
	AppendRecord(name string, payload []byte) error

	// Snapshot returns every record from a single decrypt pass.
	Snapshot() ([]vault.Record, error)
}

// ProgressFunc receives the completed and total unit counts of a bulk
// operation after each completed unit.
type ProgressFunc func(completed, total int)

// ManagerConfig bundles the dependencies of a Manager.
type ManagerConfig struct {
	// Vault is the record store wallet documents are written to.
	Vault Vault

	// Minter mints the account embedded in each new wallet record.
	Minter keymint.Minter

	// Ledger, if non-nil, receives a best-effort passphrase entry per
	// created wallet.
	Ledger *Ledger

	// KDF are the scrypt cost parameters advertised in new wallet
	// documents.
	KDF keymint.KDFParams
}

// Manager enforces the wallet record naming and numbering rules and
// composes minted accounts into wallet documents.
type Manager struct {
	cfg ManagerConfig
}

// NewManager returns a manager using the passed dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// NextWalletNumber returns the number the next created wallet will
// receive: one past the highest existing wallet number, or 1 for a vault
// without wallet records. Gaps left by manual deletion are never reused,
// and names with an unparseable number are skipped rather than treated as
// errors.
func (m *Manager) NextWalletNumber() (int, error) {
	names, err := m.cfg.Vault.ListNames(IsRecordName)
	if err != nil {
		return 0, err
	}

	next := 1
	for _, name := range names {
		if number, ok := ParseRecordNumber(name); ok && number >= next {
			next = number + 1
		}
	}

	return next, nil
}

// CreateWallet mints a new account, assembles the wallet document for the
// next wallet number and appends it to the vault, returning the new record
// name. If the append loses a numbering race and hits a duplicate name,
// the number is recomputed and the append retried exactly once before the
// error is surfaced. A configured ledger receives its entry after the
// vault write commits; ledger failures are logged and never returned.
func (m *Manager) CreateWallet(passphrase string) (string, error) {
	account, err := m.cfg.Minter.Mint(passphrase)
	if err != nil {
		return "", fmt.Errorf("unable to mint account: %w", err)
	}

	name, err := m.appendDocument(account)
	if errors.Is(err, vault.ErrDuplicateName) {
		log.Warnf("Wallet name %v already taken, renumbering once",
			name)
		name, err = m.appendDocument(account)
	}
	if err != nil {
		return "", err
	}

	if m.cfg.Ledger != nil {
		lerr := m.cfg.Ledger.Append(
			StripRecordSuffix(name), passphrase,
		)
		if lerr != nil {
			log.Errorf("Unable to write ledger entry for %v: %v",
				name, lerr)
		}
	}

	log.Infof("Created wallet %v with address %v", name, account.Address)
	return name, nil
}

// appendDocument assembles and appends the wallet document for the current
// next number, returning the record name it attempted.
func (m *Manager) appendDocument(account *keymint.Account) (string, error) {
	number, err := m.NextWalletNumber()
	if err != nil {
		return "", err
	}

	doc := NewDocument(number, account, m.cfg.KDF)
	payload, err := doc.Encode()
	if err != nil {
		return "", err
	}

	name := RecordName(number)
	if err := m.cfg.Vault.AppendRecord(name, payload); err != nil {
		return name, err
	}

	return name, nil
}

// CreateWallets mints count wallets one at a time, invoking progress after
// each completed unit. Cancelling the context stops the run between units;
// wallets already written stay valid and enumerable, and their names are
// returned alongside the context error.
func (m *Manager) CreateWallets(ctx context.Context, count int,
	passphrase string, progress ProgressFunc) ([]string, error) {

	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			log.Infof("Bulk wallet creation stopped after %d of "+
				"%d wallets", i, count)
			return names, ctx.Err()
		default:
		}

		name, err := m.CreateWallet(passphrase)
		if err != nil {
			return names, err
		}
		names = append(names, name)

		if progress != nil {
			progress(i+1, count)
		}
	}

	return names, nil
}
