package keymint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// addressVersion is the version byte prepended to the script hash
	// before base58check encoding.
	addressVersion = 0x17

	// saltSize is the size of the KDF salt stored in the encrypted key
	// blob.
	saltSize = 16

	// nonceSize is the secretbox nonce size.
	nonceSize = 24

	// keySize is the size of the derived sealing key.
	keySize = 32
)

// KDFParams are the scrypt cost parameters used to derive the key that
// seals a minted private key under the wallet passphrase.
type KDFParams struct {
	N int
	R int
	P int
}

// DefaultKDFParams returns the cost parameters advertised in wallet
// documents.
func DefaultKDFParams() KDFParams {
	return KDFParams{N: 16384, R: 8, P: 8}
}

// Account is a freshly minted cryptographic account. The store layers treat
// EncryptedKey as an opaque blob; only a holder of the wallet passphrase
// can recover the private key from it.
type Account struct {
	// Address is the base58check encoded address derived from the
	// verification script.
	Address string

	// EncryptedKey is the sealed private key blob.
	EncryptedKey string

	// Script is the hex encoded verification script for the account.
	Script string
}

// Minter mints new cryptographic accounts protected by a passphrase.
type Minter interface {
	// Mint generates a new keypair and returns the account assembled
	// from it, with the private key sealed under the passphrase.
	Mint(passphrase string) (*Account, error)
}

// SecpMinter mints secp256k1 accounts.
type SecpMinter struct {
	params KDFParams
}

// A compile time check to ensure SecpMinter implements the Minter
// interface.
var _ Minter = (*SecpMinter)(nil)

// NewSecpMinter returns a minter sealing keys with the given KDF cost
// parameters.
func NewSecpMinter(params KDFParams) *SecpMinter {
	return &SecpMinter{params: params}
}

// Mint generates a new secp256k1 keypair and assembles an account from it.
// The verification script pushes the compressed public key and checks a
// signature against it; the address is the base58check encoding of the
// script hash.
func (m *SecpMinter) Mint(passphrase string) (*Account, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("unable to generate key: %w", err)
	}

	pubKey := privKey.PubKey().SerializeCompressed()

	script := make([]byte, 0, len(pubKey)+2)
	script = append(script, byte(len(pubKey)))
	script = append(script, pubKey...)
	script = append(script, 0xac)

	address := base58.CheckEncode(btcutil.Hash160(script), addressVersion)

	sealed, err := sealKey(privKey.Serialize(), passphrase, m.params)
	if err != nil {
		return nil, err
	}

	return &Account{
		Address:      address,
		EncryptedKey: sealed,
		Script:       hex.EncodeToString(script),
	}, nil
}

// sealKey encrypts the serialized private key under a passphrase-derived
// key. The blob layout is salt, nonce, then the secretbox ciphertext, the
// whole of it base58 encoded.
func sealKey(privKey []byte, passphrase string, params KDFParams) (string,
	error) {

	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", err
	}

	key, err := deriveKey(passphrase, salt[:], params)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	blob := make([]byte, 0, saltSize+nonceSize+len(privKey)+
		secretbox.Overhead)
	blob = append(blob, salt[:]...)
	blob = append(blob, nonce[:]...)
	blob = secretbox.Seal(blob, privKey, &nonce, key)

	return base58.Encode(blob), nil
}

// UnsealKey recovers a serialized private key from an encrypted key blob.
// It exists so a vault holder can prove a record's key blob matches its
// passphrase; the store layers never call it.
func UnsealKey(encryptedKey, passphrase string, params KDFParams) ([]byte,
	error) {

	blob := base58.Decode(encryptedKey)
	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("encrypted key blob too short")
	}

	key, err := deriveKey(passphrase, blob[:saltSize], params)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	privKey, ok := secretbox.Open(
		nil, blob[saltSize+nonceSize:], &nonce, key,
	)
	if !ok {
		return nil, fmt.Errorf("unable to unseal key: wrong " +
			"passphrase or damaged blob")
	}

	return privKey, nil
}

// deriveKey runs scrypt over the passphrase and returns the sealing key in
// the fixed-size array form secretbox expects.
func deriveKey(passphrase string, salt []byte,
	params KDFParams) (*[keySize]byte, error) {

	raw, err := scrypt.Key(
		[]byte(passphrase), salt, params.N, params.R, params.P,
		keySize,
	)
	if err != nil {
		return nil, err
	}

	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
