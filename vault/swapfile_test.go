package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSwapFileWriteAndSwap asserts that payloads land at the target path
// and that the staging file never survives a successful swap.
func TestSwapFileWriteAndSwap(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "target.kmv")
	swap := NewSwapFile(target)

	require.NoError(t, swap.WriteAndSwap([]byte("first")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	// A second swap replaces the contents wholesale.
	require.NoError(t, swap.WriteAndSwap([]byte("second")))

	got, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)

	_, err = os.Stat(swap.tempFileName)
	require.True(t, os.IsNotExist(err), "staging file left behind")
}

// TestSwapFileRemovesStaleTemp asserts that a staging file left over from
// an interrupted run is cleared before the next swap.
func TestSwapFileRemovesStaleTemp(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "target.kmv")
	swap := NewSwapFile(target)

	err := os.WriteFile(swap.tempFileName, []byte("stale"), 0600)
	require.NoError(t, err)

	require.NoError(t, swap.WriteAndSwap([]byte("fresh")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), got)

	_, err = os.Stat(swap.tempFileName)
	require.True(t, os.IsNotExist(err))
}

// TestSwapFileNoName asserts that a swap file without a target name is
// rejected.
func TestSwapFileNoName(t *testing.T) {
	t.Parallel()

	swap := &SwapFile{}
	require.ErrorIs(t, swap.WriteAndSwap([]byte("x")), ErrNoFileName)
}

// TestSwapFileFailureLeavesOriginal asserts that when staging cannot
// proceed, the original file keeps its previous contents.
func TestSwapFileFailureLeavesOriginal(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "target.kmv")
	swap := NewSwapFile(target)
	require.NoError(t, swap.WriteAndSwap([]byte("original")))

	// Occupy the staging name with a non-empty directory so it can
	// neither be removed nor created as a file.
	require.NoError(t, os.Mkdir(swap.tempFileName, 0700))
	blocker := filepath.Join(swap.tempFileName, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	require.Error(t, swap.WriteAndSwap([]byte("replacement")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}
