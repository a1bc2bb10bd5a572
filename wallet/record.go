package wallet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fe0mathar/KeyMaker/keymint"
)

const (
	// recordPrefix and recordSuffix frame every wallet record name. The
	// number between them is the wallet number.
	recordPrefix = "Matrix_User_"
	recordSuffix = ".json"

	// documentVersion is the schema version written into new wallet
	// documents.
	documentVersion = "1.0"
)

// ScryptDoc is the scrypt block of a wallet document, advertising the cost
// parameters the account keys were sealed with.
type ScryptDoc struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

// ContractParameter describes one parameter of an account's verification
// contract.
type ContractParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Contract describes the verification contract backing an account.
type Contract struct {
	Script     string              `json:"script"`
	Parameters []ContractParameter `json:"parameters"`
	Deployed   bool                `json:"deployed"`
}

// Account is one account entry of a wallet document.
type Account struct {
	Address   string          `json:"address"`
	Label     string          `json:"label"`
	Lock      bool            `json:"lock"`
	Key       string          `json:"key"`
	Contract  Contract        `json:"contract"`
	Extra     json.RawMessage `json:"extra"`
	IsDefault bool            `json:"isDefault"`
}

// Document is the payload of a wallet record. Exactly one account carries
// the default flag.
type Document struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Scrypt   ScryptDoc       `json:"scrypt"`
	Accounts []Account       `json:"accounts"`
	Extra    json.RawMessage `json:"extra"`
}

// NewDocument assembles the wallet document for the given wallet number
// from a minted account.
func NewDocument(number int, account *keymint.Account,
	kdf keymint.KDFParams) *Document {

	name := BaseName(number)
	return &Document{
		Name:    name,
		Version: documentVersion,
		Scrypt:  ScryptDoc{N: kdf.N, R: kdf.R, P: kdf.P},
		Accounts: []Account{{
			Address: account.Address,
			Label:   name,
			Lock:    false,
			Key:     account.EncryptedKey,
			Contract: Contract{
				Script: account.Script,
				Parameters: []ContractParameter{{
					Name: "signature",
					Type: "Signature",
				}},
				Deployed: false,
			},
			Extra:     nil,
			IsDefault: true,
		}},
		Extra: nil,
	}
}

// Validate checks the document invariants, in particular that exactly one
// account is marked default.
func (d *Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("wallet document has no name")
	}

	var defaults int
	for _, account := range d.Accounts {
		if account.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("wallet %v has %d default accounts, "+
			"want 1", d.Name, defaults)
	}

	return nil
}

// DefaultAccount returns the account marked default, falling back to the
// first account if the flag is missing from an externally written record.
func (d *Document) DefaultAccount() (*Account, error) {
	for i := range d.Accounts {
		if d.Accounts[i].IsDefault {
			return &d.Accounts[i], nil
		}
	}
	if len(d.Accounts) > 0 {
		return &d.Accounts[0], nil
	}

	return nil, fmt.Errorf("wallet %v has no accounts", d.Name)
}

// Encode serializes the document for storage.
func (d *Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDocument parses a wallet record payload.
func DecodeDocument(payload []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode wallet document: %w",
			err)
	}
	return &doc, nil
}

// BaseName returns the wallet name for a wallet number, without the record
// suffix.
func BaseName(number int) string {
	return fmt.Sprintf("%s%d", recordPrefix, number)
}

// RecordName returns the vault record name for a wallet number.
func RecordName(number int) string {
	return BaseName(number) + recordSuffix
}

// ParseRecordNumber extracts the wallet number from a record name. Names
// that do not follow the wallet pattern, including ones whose suffix does
// not parse as a positive integer, return false and are skipped by
// callers.
func ParseRecordNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, recordPrefix) ||
		!strings.HasSuffix(name, recordSuffix) {

		return 0, false
	}

	digits := strings.TrimSuffix(
		strings.TrimPrefix(name, recordPrefix), recordSuffix,
	)
	number, err := strconv.Atoi(digits)
	if err != nil || number <= 0 {
		return 0, false
	}

	return number, true
}

// IsRecordName reports whether a vault record name is a wallet record.
func IsRecordName(name string) bool {
	_, ok := ParseRecordNumber(name)
	return ok
}

// StripRecordSuffix returns the wallet base name of a record name, used
// when presenting wallet names outside the vault.
func StripRecordSuffix(name string) string {
	return strings.TrimSuffix(name, recordSuffix)
}
