package vault

import (
	"archive/tar"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// archiveMagic is the fixed prefix identifying a KeyMaker vault
	// container on disk.
	archiveMagic = "KMVAULT1"

	// containerVersion is the container format version written by this
	// package. Readers reject any other version.
	containerVersion = 1

	// kdfScrypt identifies scrypt as the key derivation function in the
	// container header.
	kdfScrypt = 1

	// saltSize is the size of the KDF salt stored in the header.
	saltSize = 16

	// verifierSize is the size of the passphrase verifier stored in the
	// header.
	verifierSize = 4

	// keySize is the size of the derived encryption key.
	keySize = 32

	// headerSize is the total size of the plaintext container header:
	// magic, version, KDF id, scrypt N/r/p, salt, verifier and the AEAD
	// nonce. The header doubles as associated data for the AEAD, so any
	// modification of it fails authentication of the payload.
	headerSize = len(archiveMagic) + 1 + 1 + 4 + 1 + 1 + saltSize +
		verifierSize + chacha20poly1305.NonceSizeX

	// maxScryptN bounds the memory cost a header can demand. Headers are
	// read before they are authenticated, so implausible cost parameters
	// are refused rather than run.
	maxScryptN = 1 << 22
)

// ScryptParams are the scrypt cost parameters used to derive the archive
// encryption key from the vault passphrase.
type ScryptParams struct {
	N uint32
	R uint8
	P uint8
}

// DefaultScryptParams returns the cost parameters used for new vaults.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 16384, R: 8, P: 8}
}

// Record is one named entry stored inside the vault archive. ModTime is the
// entry's creation time as recorded by the archive, at second granularity.
type Record struct {
	Name    string
	Payload []byte
	ModTime time.Time
}

// deriveKey runs the KDF over the passphrase with the given salt and cost
// parameters.
func deriveKey(passphrase, salt []byte, params ScryptParams) ([]byte, error) {
	return scrypt.Key(
		passphrase, salt, int(params.N), int(params.R),
		int(params.P), keySize,
	)
}

// passphraseVerifier returns a short check value derived from the encryption
// key. It lets a reader distinguish a wrong passphrase from a damaged
// container before attempting the full decrypt, mirroring the password
// verifier bytes of classic encrypted archive formats.
func passphraseVerifier(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("keymaker container verifier"))
	return mac.Sum(nil)[:verifierSize]
}

// sealArchive writes the set of records into the passed io.Writer as an
// encrypted container. The payload is a gzip compressed tar stream sealed
// with a 24-byte chachapoly AEAD instance under a key derived from the
// passphrase. The randomized nonce lives in the plaintext header, and the
// full header is used as associated data in the AEAD.
func sealArchive(w io.Writer, passphrase []byte, params ScryptParams,
	records []Record) error {

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return err
	}

	key, err := deriveKey(passphrase, salt[:], params)
	if err != nil {
		return err
	}

	// Assemble the plaintext header. Everything the reader needs to
	// re-derive the key precedes the verifier and nonce.
	var header bytes.Buffer
	header.WriteString(archiveMagic)
	header.WriteByte(containerVersion)
	header.WriteByte(kdfScrypt)
	if err := binary.Write(&header, binary.BigEndian, params.N); err != nil {
		return err
	}
	header.WriteByte(params.R)
	header.WriteByte(params.P)
	header.Write(salt[:])
	header.Write(passphraseVerifier(key))

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	header.Write(nonce[:])

	// The records themselves are packed as a tar stream, compressed
	// before encryption. Tar headers carry the record names and creation
	// times that enumeration and the stats extractor rely on.
	var plain bytes.Buffer
	gzw := gzip.NewWriter(&plain)
	tw := tar.NewWriter(gzw)
	for _, rec := range records {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     rec.Name,
			Mode:     0600,
			Size:     int64(len(rec.Payload)),
			ModTime:  rec.ModTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(rec.Payload); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gzw.Close(); err != nil {
		return err
	}

	// Note that we use NewX, not New, as the latter version requires a
	// 12-byte nonce, not a 24-byte nonce.
	cipher, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	ciphertext := cipher.Seal(nil, nonce[:], plain.Bytes(), header.Bytes())

	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(ciphertext); err != nil {
		return err
	}

	return nil
}

// unsealArchive decodes and decrypts a raw container read from path,
// returning its records in archive order. A wrong passphrase surfaces as
// AuthenticationError, any structural damage as CorruptArchiveError.
func unsealArchive(path string, raw, passphrase []byte) ([]Record, error) {
	if len(raw) < headerSize+chacha20poly1305.Overhead {
		return nil, &CorruptArchiveError{
			Path: path,
			Err: fmt.Errorf("container size %d below minimum %d",
				len(raw), headerSize+chacha20poly1305.Overhead),
		}
	}

	if !bytes.Equal(raw[:len(archiveMagic)], []byte(archiveMagic)) {
		return nil, &CorruptArchiveError{
			Path: path,
			Err:  fmt.Errorf("bad container magic"),
		}
	}
	if v := raw[8]; v != containerVersion {
		return nil, &CorruptArchiveError{
			Path: path,
			Err:  fmt.Errorf("unknown container version %d", v),
		}
	}
	if kdf := raw[9]; kdf != kdfScrypt {
		return nil, &CorruptArchiveError{
			Path: path,
			Err:  fmt.Errorf("unknown kdf id %d", kdf),
		}
	}

	params := ScryptParams{
		N: binary.BigEndian.Uint32(raw[10:14]),
		R: raw[14],
		P: raw[15],
	}
	if params.N == 0 || params.N > maxScryptN || params.R == 0 ||
		params.P == 0 {

		return nil, &CorruptArchiveError{
			Path: path,
			Err: fmt.Errorf("implausible kdf parameters "+
				"n=%d r=%d p=%d", params.N, params.R, params.P),
		}
	}

	salt := raw[16 : 16+saltSize]
	verifier := raw[16+saltSize : 16+saltSize+verifierSize]
	nonce := raw[headerSize-chacha20poly1305.NonceSizeX : headerSize]

	key, err := deriveKey(passphrase, salt, params)
	if err != nil {
		return nil, &CorruptArchiveError{Path: path, Err: err}
	}

	if !hmac.Equal(passphraseVerifier(key), verifier) {
		return nil, &AuthenticationError{Path: path}
	}

	// The verifier matched, so the passphrase is right. Any failure from
	// here on means the container was modified after it was written.
	cipher, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, &CorruptArchiveError{Path: path, Err: err}
	}
	plain, err := cipher.Open(
		nil, nonce, raw[headerSize:], raw[:headerSize],
	)
	if err != nil {
		return nil, &CorruptArchiveError{Path: path, Err: err}
	}

	gzr, err := gzip.NewReader(bytes.NewReader(plain))
	if err != nil {
		return nil, &CorruptArchiveError{Path: path, Err: err}
	}
	tr := tar.NewReader(gzr)

	var records []Record
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &CorruptArchiveError{Path: path, Err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, &CorruptArchiveError{Path: path, Err: err}
		}
		records = append(records, Record{
			Name:    hdr.Name,
			Payload: payload,
			ModTime: hdr.ModTime,
		})
	}

	return records, nil
}
