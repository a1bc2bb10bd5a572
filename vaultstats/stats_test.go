package vaultstats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Fe0mathar/KeyMaker/vault"
	"github.com/Fe0mathar/KeyMaker/wallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	testScryptParams = vault.ScryptParams{N: 16, R: 8, P: 1}

	testTime = time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
)

// newTestVault creates an initialized vault backed by a test clock so
// record creation times can be steered day by day.
func newTestVault(t *testing.T) (*vault.Store, *clock.TestClock) {
	t.Helper()

	testClock := clock.NewTestClock(testTime)
	store := vault.NewStore(
		filepath.Join(t.TempDir(), vault.DefaultVaultFileName),
		[]byte("stats-pass"),
		vault.WithScryptParams(testScryptParams),
		vault.WithClock(testClock),
	)
	require.NoError(t, store.Create())

	return store, testClock
}

// TestWalletVolumeByDate checks that wallet records are bucketed by
// creation date, that buckets come back in ascending date order and that
// the counts are the true per-date totals.
func TestWalletVolumeByDate(t *testing.T) {
	t.Parallel()

	store, testClock := newTestVault(t)

	// Two wallets on the first day, then one two days later, then
	// three more another day after that. The days are appended out of
	// numerical wallet order on purpose; only ModTime should matter.
	appendWallet := func(number int) {
		payload := []byte(`{"version": "1.0"}`)
		err := store.AppendRecord(wallet.RecordName(number), payload)
		require.NoError(t, err)
	}

	appendWallet(1)
	appendWallet(2)

	testClock.SetTime(testTime.AddDate(0, 0, 2))
	appendWallet(3)

	testClock.SetTime(testTime.AddDate(0, 0, 3))
	appendWallet(4)
	appendWallet(5)
	appendWallet(6)

	// A non-wallet record must not show up in the histogram.
	err := store.AppendRecord("api_keys.txt", []byte("ChatGPT API Key: x"))
	require.NoError(t, err)

	extractor := NewExtractor(store)
	volume, err := extractor.WalletVolumeByDate()
	require.NoError(t, err)

	// The archive hands creation times back in the local zone, so the
	// expected date strings are derived the same way.
	day := func(offset int) string {
		when := testTime.AddDate(0, 0, offset)
		return time.Unix(when.Unix(), 0).Format(dateLayout)
	}

	expected := []DateCount{
		{Date: day(0), Count: 2},
		{Date: day(2), Count: 1},
		{Date: day(3), Count: 3},
	}
	require.Equal(t, expected, volume)

	total, err := extractor.TotalWallets()
	require.NoError(t, err)
	require.Equal(t, 6, total)
}

// TestWalletVolumeEmptyVault checks that a freshly initialized vault
// yields an empty histogram rather than an error.
func TestWalletVolumeEmptyVault(t *testing.T) {
	t.Parallel()

	store, _ := newTestVault(t)

	extractor := NewExtractor(store)
	volume, err := extractor.WalletVolumeByDate()
	require.NoError(t, err)
	require.Empty(t, volume)

	total, err := extractor.TotalWallets()
	require.NoError(t, err)
	require.Zero(t, total)
}

// TestWalletVolumeSnapshotError checks that vault failures surface to the
// caller instead of being folded into an empty result.
func TestWalletVolumeSnapshotError(t *testing.T) {
	t.Parallel()

	store := vault.NewStore(
		filepath.Join(t.TempDir(), vault.DefaultVaultFileName),
		[]byte("stats-pass"),
		vault.WithScryptParams(testScryptParams),
	)

	// No Create call, so the vault file does not exist yet.
	extractor := NewExtractor(store)
	_, err := extractor.WalletVolumeByDate()
	require.ErrorIs(t, err, vault.ErrNotFound)

	_, err = extractor.TotalWallets()
	require.ErrorIs(t, err, vault.ErrNotFound)
}
