package vault

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	// SentinelName is the name of the fixed marker record written when a
	// vault is created. Its presence proves the vault decrypts with the
	// bound passphrase.
	SentinelName = "vault_initialized.txt"

	// SentinelPayload is the fixed payload of the sentinel record.
	SentinelPayload = "Vault is encrypted and ready."

	// writeAttempts is the number of times a failed vault file write is
	// retried before surfacing WriteFailedError. Local file writes fail
	// rarely and recover quickly, so no backoff is applied.
	writeAttempts = 3
)

// storeState tracks the lifecycle of a Store handle.
type storeState uint8

const (
	// stateUnbound is a store created without a path or passphrase. No
	// operation is permitted.
	stateUnbound storeState = iota

	// stateBound is a store bound to a path and passphrase that has not
	// been validated yet. Reads and writes are permitted.
	stateBound

	// stateValidated is a bound store whose sentinel record has been
	// read successfully.
	stateValidated

	// stateInvalid is a bound store whose last validation failed. Only
	// Create (as a recovery path) and another Validate are permitted.
	stateInvalid

	// stateClosed is a store whose passphrase has been released.
	stateClosed
)

// String returns a human readable name for a store state.
func (s storeState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateBound:
		return "bound"
	case stateValidated:
		return "validated"
	case stateInvalid:
		return "invalid"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Store provides all reads and writes against one encrypted vault file. It
// owns the path and passphrase for its lifetime and serializes every
// operation through an internal mutex, so at most one writer is active per
// handle. The guard does not extend across processes; concurrent writers
// going through separate processes are undefined behavior.
type Store struct {
	mtx sync.Mutex

	path       string
	passphrase []byte
	params     ScryptParams
	clock      clock.Clock
	swap       *SwapFile
	state      storeState
}

// StoreOption modifies the default configuration of a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to stamp record creation times.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// WithScryptParams overrides the KDF cost parameters used when sealing the
// vault. Tests use throwaway parameters to avoid the production work
// factor.
func WithScryptParams(params ScryptParams) StoreOption {
	return func(s *Store) {
		s.params = params
	}
}

// NewStore binds a store handle to the vault file at path, protected by
// passphrase. Binding performs no I/O and no verification; Validate checks
// the passphrase explicitly. A store created with an empty path or
// passphrase is unbound and rejects every operation. The store takes
// ownership of the passphrase slice and zeroes it on Close.
func NewStore(path string, passphrase []byte, opts ...StoreOption) *Store {
	s := &Store{
		path:       path,
		passphrase: passphrase,
		params:     DefaultScryptParams(),
		clock:      clock.NewDefaultClock(),
		swap:       NewSwapFile(path),
		state:      stateUnbound,
	}
	if path != "" && len(passphrase) > 0 {
		s.state = stateBound
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Path returns the vault file location this store is bound to.
func (s *Store) Path() string {
	return s.path
}

// checkState returns an InvalidStateError unless the current state is one
// of the permitted states. Callers must hold mtx.
func (s *Store) checkState(op string, permitted ...storeState) error {
	for _, p := range permitted {
		if s.state == p {
			return nil
		}
	}
	return &InvalidStateError{
		Op:     op,
		Reason: "store is " + s.state.String(),
	}
}

// readLocked loads and decrypts the whole archive. Callers must hold mtx.
func (s *Store) readLocked() ([]Record, error) {
	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, &NotFoundError{Name: s.path}
	case err != nil:
		return nil, err
	}

	return unsealArchive(s.path, raw, s.passphrase)
}

// writeLocked seals the record set and swaps it into place, retrying the
// file write on transient failures. Callers must hold mtx.
func (s *Store) writeLocked(records []Record) error {
	var buf bytes.Buffer
	if err := sealArchive(
		&buf, s.passphrase, s.params, records,
	); err != nil {
		return &WriteFailedError{Attempts: 1, Err: err}
	}

	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = s.swap.WriteAndSwap(buf.Bytes()); err == nil {
			return nil
		}

		log.Warnf("Vault write attempt %d/%d failed: %v", attempt,
			writeAttempts, err)
	}

	log.Criticalf("Unable to write vault file %v after %d attempts: %v",
		s.path, writeAttempts, err)

	return &WriteFailedError{Attempts: writeAttempts, Err: err}
}

// Validate attempts to decrypt the vault and read the sentinel record. A
// wrong passphrase fails with AuthenticationError, a container that cannot
// be read as a valid archive with CorruptArchiveError, and a missing
// sentinel (or missing vault file) with NotFoundError. Validate never
// mutates the vault, so repeated calls on an unmodified vault return the
// same result.
func (s *Store) Validate() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState(
		"validate", stateBound, stateValidated, stateInvalid,
	)
	if err != nil {
		return err
	}

	records, err := s.readLocked()
	if err != nil {
		s.state = stateInvalid
		return err
	}

	for _, rec := range records {
		if rec.Name == SentinelName {
			s.state = stateValidated
			return nil
		}
	}

	s.state = stateInvalid
	return &NotFoundError{Name: SentinelName}
}

// Create initializes a new vault at the bound path, writing the sentinel
// record as its sole content. A vault that already decrypts with the bound
// passphrase and holds records is refused with InvalidStateError. A file
// that fails to decrypt altogether is treated as recoverable and replaced
// with a fresh vault.
func (s *Store) Create() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState(
		"create", stateBound, stateValidated, stateInvalid,
	)
	if err != nil {
		return err
	}

	records, err := s.readLocked()
	switch {
	// A decryptable archive that already holds records is meaningfully
	// in use and must not be clobbered.
	case err == nil && len(records) > 0:
		return &InvalidStateError{
			Op:     "create",
			Reason: "vault already initialized",
		}

	case err == nil || errors.Is(err, ErrNotFound):

	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrCorruptArchive):

		// Recovery path: the file at the target location is not a
		// readable vault, so a fresh one replaces it.
		log.Warnf("Replacing unreadable vault at %v: %v", s.path, err)

	default:
		return err
	}

	sentinel := Record{
		Name:    SentinelName,
		Payload: []byte(SentinelPayload),
		ModTime: s.clock.Now().Truncate(time.Second),
	}
	if err := s.writeLocked([]Record{sentinel}); err != nil {
		return err
	}

	s.state = stateValidated
	log.Infof("Created new vault at %v", s.path)
	return nil
}

// ListNames enumerates record names in archive insertion order, filtered
// by the caller's predicate. A nil filter matches every name.
func (s *Store) ListNames(filter func(string) bool) ([]string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState("list names", stateBound, stateValidated)
	if err != nil {
		return nil, err
	}

	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(records))
	for _, rec := range records {
		if filter == nil || filter(rec.Name) {
			names = append(names, rec.Name)
		}
	}

	return names, nil
}

// ReadRecord returns the payload of the named record, failing with
// NotFoundError if the record is absent.
func (s *Store) ReadRecord(name string) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState("read record", stateBound, stateValidated)
	if err != nil {
		return nil, err
	}

	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Name == name {
			return rec.Payload, nil
		}
	}

	return nil, &NotFoundError{Name: name}
}

// RecordCreationTime returns the stored creation time of the named record.
// The value is whatever the local clock read when the record was written,
// at second granularity, with no timezone normalization.
func (s *Store) RecordCreationTime(name string) (time.Time, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState(
		"record creation time", stateBound, stateValidated,
	)
	if err != nil {
		return time.Time{}, err
	}

	records, err := s.readLocked()
	if err != nil {
		return time.Time{}, err
	}

	for _, rec := range records {
		if rec.Name == name {
			return rec.ModTime, nil
		}
	}

	return time.Time{}, &NotFoundError{Name: name}
}

// Snapshot returns every record in the vault from a single decrypt pass,
// in archive insertion order. Callers iterating many records should prefer
// this over per-record reads, which decrypt the whole archive each time.
func (s *Store) Snapshot() ([]Record, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState("snapshot", stateBound, stateValidated)
	if err != nil {
		return nil, err
	}

	return s.readLocked()
}

// AppendRecord adds a new named record to the vault. The name must not
// exist yet; appending to an existing name fails with DuplicateNameError
// before anything is written. The duplicate check and the rewrite are only
// serialized against writers sharing this handle, so the check-then-write
// remains racy across processes.
func (s *Store) AppendRecord(name string, payload []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState("append record", stateBound, stateValidated)
	if err != nil {
		return err
	}

	records, err := s.readLocked()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Name == name {
			return &DuplicateNameError{Name: name}
		}
	}

	records = append(records, Record{
		Name:    name,
		Payload: payload,
		ModTime: s.clock.Now().Truncate(time.Second),
	})
	if err := s.writeLocked(records); err != nil {
		return err
	}

	log.Debugf("Appended record %v (%d bytes)", name, len(payload))
	return nil
}

// ReplaceRecord writes the named record, replacing any existing entry of
// that name while preserving every other record byte for byte. The archive
// has no in-place update, so the whole container is rebuilt, staged in a
// temp file and renamed over the vault; a failed rewrite leaves the
// original untouched.
func (s *Store) ReplaceRecord(name string, payload []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := s.checkState("replace record", stateBound, stateValidated)
	if err != nil {
		return err
	}

	records, err := s.readLocked()
	if err != nil {
		return err
	}

	kept := make([]Record, 0, len(records)+1)
	for _, rec := range records {
		if rec.Name != name {
			kept = append(kept, rec)
		}
	}
	kept = append(kept, Record{
		Name:    name,
		Payload: payload,
		ModTime: s.clock.Now().Truncate(time.Second),
	})

	if err := s.writeLocked(kept); err != nil {
		return err
	}

	log.Debugf("Replaced record %v (%d bytes)", name, len(payload))
	return nil
}

// Close releases the handle and zeroes the passphrase it held. Any further
// operation on the store fails with InvalidStateError.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for i := range s.passphrase {
		s.passphrase[i] = 0
	}
	s.passphrase = nil
	s.state = stateClosed

	return nil
}
