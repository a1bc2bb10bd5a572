package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the passphrase bound to a store
	// cannot decrypt the vault. Operations failing with this error must
	// not be retried with the same passphrase.
	ErrAuthentication = errors.New("invalid vault passphrase")

	// ErrCorruptArchive is returned when the vault file cannot be read as
	// a valid encrypted archive. The vault needs to be recreated or
	// restored from a copy.
	ErrCorruptArchive = errors.New("vault archive is corrupt")

	// ErrNotFound is returned when a required record, or the vault file
	// itself, does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateName is returned when appending a record under a name
	// that already exists in the vault.
	ErrDuplicateName = errors.New("record name already exists")

	// ErrWriteFailed is returned once all write attempts against the
	// vault file have failed.
	ErrWriteFailed = errors.New("vault write failed")

	// ErrInvalidState is returned when an operation is attempted on a
	// store that is not in a state permitting it, for example a store
	// with no path or passphrase bound.
	ErrInvalidState = errors.New("store in invalid state")
)

// AuthenticationError wraps ErrAuthentication with the path of the vault
// that rejected the passphrase.
type AuthenticationError struct {
	Path string
}

// Error returns a human readable string describing the error.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%v: %v", e.Path, ErrAuthentication)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *AuthenticationError) Unwrap() error {
	return ErrAuthentication
}

// CorruptArchiveError wraps ErrCorruptArchive with the underlying decode
// failure, if any.
type CorruptArchiveError struct {
	Path string
	Err  error
}

// Error returns a human readable string describing the error.
func (e *CorruptArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v: %v", e.Path, ErrCorruptArchive,
			e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Path, ErrCorruptArchive)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *CorruptArchiveError) Unwrap() error {
	return ErrCorruptArchive
}

// NotFoundError wraps ErrNotFound with the name of the missing record.
type NotFoundError struct {
	Name string
}

// Error returns a human readable string describing the error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %v", e.Name, ErrNotFound)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DuplicateNameError wraps ErrDuplicateName with the offending record name.
type DuplicateNameError struct {
	Name string
}

// Error returns a human readable string describing the error.
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%v: %v", e.Name, ErrDuplicateName)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

// WriteFailedError wraps ErrWriteFailed with the number of attempts made
// and the last underlying I/O failure.
type WriteFailedError struct {
	Attempts int
	Err      error
}

// Error returns a human readable string describing the error.
func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrWriteFailed,
		e.Attempts, e.Err)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *WriteFailedError) Unwrap() error {
	return ErrWriteFailed
}

// InvalidStateError wraps ErrInvalidState with the rejected operation and
// the reason it was rejected.
type InvalidStateError struct {
	Op     string
	Reason string
}

// Error returns a human readable string describing the error.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%v: %v: %v", e.Op, ErrInvalidState, e.Reason)
}

// Unwrap returns the error kind for matching with errors.Is.
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}
