package keymint

import "fmt"

// MockMinter is a deterministic Minter for tests. Each call mints a
// predictable account without touching real key material.
type MockMinter struct {
	// Minted counts the number of accounts handed out.
	Minted int

	// Fail, if set, makes every Mint call return this error.
	Fail error
}

// A compile time check to ensure MockMinter implements the Minter
// interface.
var _ Minter = (*MockMinter)(nil)

// Mint returns the next deterministic account.
func (m *MockMinter) Mint(passphrase string) (*Account, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}

	m.Minted++
	return &Account{
		Address:      fmt.Sprintf("AMockAddress%04d", m.Minted),
		EncryptedKey: fmt.Sprintf("mock-key-%04d-%s", m.Minted, passphrase),
		Script:       fmt.Sprintf("21%062xac", m.Minted),
	}, nil
}
