package wallet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestExportAddresses asserts the export line format, progress reporting
// and tolerance of unreadable wallet records.
func TestExportAddresses(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	_, err := h.manager.CreateWallets(
		context.Background(), 3, "walletpass", nil,
	)
	require.NoError(t, err)

	// A record matching the wallet pattern but holding junk is skipped.
	err = h.store.AppendRecord("Matrix_User_9.json", []byte("not json"))
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "addresses.txt")
	exporter := NewExporter(h.store)

	var progress [][2]int
	exported, err := exporter.ExportAddresses(
		context.Background(), outPath,
		func(completed, total int) {
			progress = append(progress, [2]int{completed, total})
		},
	)
	require.NoError(t, err)
	require.Equal(t, 3, exported)

	// Progress covered all four candidate records, ending at 100%.
	require.NotEmpty(t, progress)
	require.Equal(t, [2]int{4, 4}, progress[len(progress)-1])

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	want := fmt.Sprintf(
		"Matrix_User_1: %s\nMatrix_User_2: %s\nMatrix_User_3: %s\n",
		"AMockAddress0001", "AMockAddress0002", "AMockAddress0003",
	)
	require.Equal(t, want, string(raw))
}

// TestExportAddressesEmptyVault asserts that a vault without wallets
// exports an empty file without error.
func TestExportAddressesEmptyVault(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	outPath := filepath.Join(t.TempDir(), "addresses.txt")
	exported, err := NewExporter(h.store).ExportAddresses(
		context.Background(), outPath, nil,
	)
	require.NoError(t, err)
	require.Zero(t, exported)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Empty(t, raw)
}

// TestExportAddressesCancel asserts that a cancelled export writes no
// output file at all.
func TestExportAddressesCancel(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	_, err := h.manager.CreateWallets(
		context.Background(), 3, "walletpass", nil,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outPath := filepath.Join(t.TempDir(), "addresses.txt")
	_, err = NewExporter(h.store).ExportAddresses(ctx, outPath, nil)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(outPath)
	require.True(t, os.IsNotExist(err), "partial export file written")
}
