package wallet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Fe0mathar/KeyMaker/vault"
)

// Exporter writes the public addresses of every wallet record to a plain
// text file, one "wallet_name: address" line per wallet, in archive order.
type Exporter struct {
	vault Vault
}

// NewExporter returns an exporter reading wallet records from the passed
// vault.
func NewExporter(v Vault) *Exporter {
	return &Exporter{vault: v}
}

// ExportAddresses extracts the default account address of every wallet
// record and writes the result to outPath, reporting progress after each
// wallet. The output file is written atomically once extraction finishes;
// cancelling the context between units leaves no partial file behind.
// Records that do not decode as wallet documents are skipped with a
// warning. Returns the number of addresses exported.
func (e *Exporter) ExportAddresses(ctx context.Context, outPath string,
	progress ProgressFunc) (int, error) {

	snapshot, err := e.vault.Snapshot()
	if err != nil {
		return 0, err
	}

	var records []vault.Record
	for _, rec := range snapshot {
		if IsRecordName(rec.Name) {
			records = append(records, rec)
		}
	}

	var (
		buf      bytes.Buffer
		exported int
	)
	for i, rec := range records {
		select {
		case <-ctx.Done():
			log.Infof("Address export stopped after %d of %d "+
				"wallets", i, len(records))
			return 0, ctx.Err()
		default:
		}

		if address, ok := walletAddress(rec); ok {
			fmt.Fprintf(
				&buf, "%s: %s\n",
				StripRecordSuffix(rec.Name), address,
			)
			exported++
		}

		// Progress advances for skipped records too, so the bar
		// still ends at 100%.
		if progress != nil {
			progress(i+1, len(records))
		}
	}

	swap := vault.NewSwapFile(outPath)
	if err := swap.WriteAndSwap(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("unable to write address export: %w", err)
	}

	log.Infof("Exported %d addresses to %v", exported, outPath)
	return exported, nil
}

// walletAddress extracts the default account address of a wallet record,
// reporting false for records that do not decode as wallet documents.
func walletAddress(rec vault.Record) (string, bool) {
	doc, err := DecodeDocument(rec.Payload)
	if err != nil {
		log.Warnf("Skipping unreadable wallet record %v: %v", rec.Name,
			err)
		return "", false
	}

	account, err := doc.DefaultAccount()
	if err != nil {
		log.Warnf("Skipping wallet record %v: %v", rec.Name, err)
		return "", false
	}

	return account.Address, true
}
