package vaultstats

import (
	"sort"

	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/wallet"
)

// dateLayout truncates record creation times to day granularity. No
// timezone normalization is applied; dates come out in whatever zone the
// archive stored.
const dateLayout = "2006-01-02"

// DateCount is one histogram bucket: a creation date and the number of
// wallet records created on it.
type DateCount struct {
	Date  string
	Count int
}

// Vault is the slice of the encrypted archive store the stats extractor
// needs. *vault.Store satisfies it.
type Vault interface {
	// Snapshot returns every record from a single decrypt pass.
	Snapshot() ([]vault.Record, error)
}

// Extractor derives display statistics from the wallet records in a
// vault. The counts are true per-date totals; any cosmetic subdivision of
// them is up to presentation code and carries no meaning here.
type Extractor struct {
	vault Vault
}

// NewExtractor returns an extractor reading from the passed vault.
func NewExtractor(v Vault) *Extractor {
	return &Extractor{vault: v}
}

// WalletVolumeByDate groups wallet records by their creation date and
// returns one bucket per date, sorted ascending by date string.
func (e *Extractor) WalletVolumeByDate() ([]DateCount, error) {
	snapshot, err := e.vault.Snapshot()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, rec := range snapshot {
		if !wallet.IsRecordName(rec.Name) {
			continue
		}
		counts[rec.ModTime.Format(dateLayout)]++
	}

	dates := make([]string, 0, len(counts))
	for date := range counts {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	volume := make([]DateCount, 0, len(dates))
	for _, date := range dates {
		volume = append(volume, DateCount{
			Date:  date,
			Count: counts[date],
		})
	}

	log.Debugf("Computed wallet volume across %d dates", len(volume))
	return volume, nil
}

// TotalWallets returns the total number of wallet records in the vault.
func (e *Extractor) TotalWallets() (int, error) {
	volume, err := e.WalletVolumeByDate()
	if err != nil {
		return 0, err
	}

	var total int
	for _, bucket := range volume {
		total += bucket.Count
	}
	return total, nil
}
