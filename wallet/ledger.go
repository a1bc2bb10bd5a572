package wallet

import (
	"fmt"
	"os"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultLedgerFileName is the default name of the passphrase ledger
	// kept next to the vault.
	DefaultLedgerFileName = "keys.csv"

	// ledgerTimeLayout is the timestamp layout of ledger lines.
	ledgerTimeLayout = "2006-01-02 15:04:05"
)

// Ledger is the plaintext append-only side log receiving one line per
// created wallet: wallet_name,timestamp,passphrase. Commas inside the
// passphrase are not escaped; readers must split a line on its first two
// commas only. The ledger is best-effort by contract: callers log append
// failures and move on, since the wallet record is already committed to
// the vault by the time the ledger is written.
type Ledger struct {
	mtx sync.Mutex

	path  string
	clock clock.Clock
}

// NewLedger returns a ledger appending to the file at path. The file is
// created on first append.
func NewLedger(path string, c clock.Clock) *Ledger {
	if c == nil {
		c = clock.NewDefaultClock()
	}

	return &Ledger{
		path:  path,
		clock: c,
	}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one ledger line for the named wallet.
func (l *Ledger) Append(walletName, passphrase string) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	file, err := os.OpenFile(
		l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600,
	)
	if err != nil {
		return fmt.Errorf("unable to open ledger: %w", err)
	}

	line := fmt.Sprintf(
		"%s,%s,%s\n", walletName,
		l.clock.Now().Format(ledgerTimeLayout), passphrase,
	)
	_, err = file.WriteString(line)
	if err != nil {
		file.Close()
		return fmt.Errorf("unable to append to ledger: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("unable to close ledger: %w", err)
	}

	return nil
}
