package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultVaultFileName is the default name of the encrypted vault
	// file.
	DefaultVaultFileName = "vault.kmv"

	// tempFilePrefix is prepended to the target file name to form the
	// name of the staging file used for atomic rewrites.
	tempFilePrefix = "temp-dont-use-"
)

// ErrNoFileName is returned if a caller attempts to swap a file with the
// target file name not set.
var ErrNoFileName = fmt.Errorf("swap file name not set")

// SwapFile represents a file on disk that is only ever replaced wholesale.
// Writers stage the new contents in a temporary file in the same directory,
// then atomically swap (via rename) the old file for the new one. This
// struct relies on an atomic file rename property which most widely used
// file systems have; on any failure the original file is left untouched.
type SwapFile struct {
	// fileName is the file name of the main file.
	fileName string

	// tempFileName is the name of the file that we'll use to stage new
	// contents, and then rename to the main file.
	tempFileName string

	// tempFile is an open handle to the temp file.
	tempFile *os.File
}

// NewSwapFile creates a new swap-file instance for the target location on
// the file system. The staging file lives in the very same directory as the
// target so the final rename never crosses a file system boundary.
func NewSwapFile(fileName string) *SwapFile {
	dir := filepath.Dir(fileName)
	tempFileName := filepath.Join(
		dir, tempFilePrefix+filepath.Base(fileName),
	)

	return &SwapFile{
		fileName:     fileName,
		tempFileName: tempFileName,
	}
}

// WriteAndSwap attempts to write the payload to the temporary staging file,
// then atomically swap (via rename) the old file for the new file. On any
// failure the temp file is removed and the main file keeps its previous
// contents.
func (f *SwapFile) WriteAndSwap(payload []byte) error {
	// If the main file isn't set, then we can't proceed.
	if f.fileName == "" {
		return ErrNoFileName
	}

	// If an old staging file still exists, then we'll delete it before
	// proceeding.
	if _, err := os.Stat(f.tempFileName); err == nil {
		log.Infof("Found old temp file @ %v, removing before swap",
			f.tempFileName)

		err = os.Remove(f.tempFileName)
		if err != nil {
			return fmt.Errorf("unable to remove temp file: %w",
				err)
		}
	}

	// Now that we know the staging area is clear, we'll create the new
	// temporary file.
	var err error
	f.tempFile, err = os.Create(f.tempFileName)
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}

	// With the file created, we'll write the new payload and remove the
	// temporary file all together once this method exits.
	_, err = f.tempFile.Write(payload)
	if err != nil {
		return fmt.Errorf("unable to write to temp file: %w", err)
	}
	if err := f.tempFile.Sync(); err != nil {
		return fmt.Errorf("unable to sync temp file: %w", err)
	}
	defer os.Remove(f.tempFileName)

	log.Debugf("Swapping staged contents from %v to %v",
		f.tempFileName, f.fileName)

	// Before we rename the swap (atomic name swap), we'll make sure to
	// close the current file as some OSes don't support renaming a file
	// that's already open (Windows).
	if err := f.tempFile.Close(); err != nil {
		return fmt.Errorf("unable to close file: %w", err)
	}

	// Finally, we'll attempt to atomically rename the temporary file to
	// the main file. If this succeeds, then we'll only have a single
	// file on disk once this method exits.
	return os.Rename(f.tempFileName, f.fileName)
}
