package wallet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Fe0mathar/KeyMaker/keymint"
)

// TestParseRecordNumber exercises the wallet name pattern, including the
// malformed names the numbering logic must skip.
func TestParseRecordNumber(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		number int
		ok     bool
	}{
		{name: "Matrix_User_1.json", number: 1, ok: true},
		{name: "Matrix_User_42.json", number: 42, ok: true},
		{name: "Matrix_User_007.json", number: 7, ok: true},
		{name: "Matrix_User_.json", ok: false},
		{name: "Matrix_User_x.json", ok: false},
		{name: "Matrix_User_0.json", ok: false},
		{name: "Matrix_User_-3.json", ok: false},
		{name: "Matrix_User_1.txt", ok: false},
		{name: "Matrix_User_1", ok: false},
		{name: "api_keys.txt", ok: false},
		{name: "vault_initialized.txt", ok: false},
		{name: "", ok: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			number, ok := ParseRecordNumber(tc.name)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.number, number)
			}
			require.Equal(t, tc.ok, IsRecordName(tc.name))
		})
	}
}

// TestDocumentShape asserts the exact JSON field layout of a wallet
// document, which must stay stable for vault interop.
func TestDocumentShape(t *testing.T) {
	t.Parallel()

	account := &keymint.Account{
		Address:      "ATestAddress",
		EncryptedKey: "sealed-key",
		Script:       "21aabbac",
	}
	doc := NewDocument(7, account, keymint.KDFParams{N: 16384, R: 8, P: 8})

	require.NoError(t, doc.Validate())
	require.Equal(t, "Matrix_User_7", doc.Name)

	payload, err := doc.Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "Matrix_User_7", decoded["name"])
	require.Equal(t, "1.0", decoded["version"])
	require.Nil(t, decoded["extra"])

	scrypt, ok := decoded["scrypt"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 16384, scrypt["n"])
	require.EqualValues(t, 8, scrypt["r"])
	require.EqualValues(t, 8, scrypt["p"])

	accounts, ok := decoded["accounts"].([]interface{})
	require.True(t, ok)
	require.Len(t, accounts, 1)

	first, ok := accounts[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "ATestAddress", first["address"])
	require.Equal(t, "Matrix_User_7", first["label"])
	require.Equal(t, false, first["lock"])
	require.Equal(t, "sealed-key", first["key"])
	require.Equal(t, true, first["isDefault"])
	require.Nil(t, first["extra"])

	contract, ok := first["contract"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "21aabbac", contract["script"])
	require.Equal(t, false, contract["deployed"])

	params, ok := contract["parameters"].([]interface{})
	require.True(t, ok)
	require.Len(t, params, 1)
	param, ok := params[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "signature", param["name"])
	require.Equal(t, "Signature", param["type"])
}

// TestDocumentRoundTrip asserts that an encoded document decodes back to
// the same value.
func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	account := &keymint.Account{
		Address:      "ARoundTrip",
		EncryptedKey: "key-blob",
		Script:       "2100ac",
	}
	doc := NewDocument(3, account, keymint.KDFParams{N: 16384, R: 8, P: 8})

	payload, err := doc.Encode()
	require.NoError(t, err)

	decoded, err := DecodeDocument(payload)
	require.NoError(t, err)
	require.Equal(t, doc.Name, decoded.Name)
	require.Equal(t, doc.Scrypt, decoded.Scrypt)

	// The decoded document re-encodes to the same JSON. The structs are
	// not compared directly since a null extra field decodes to a non-nil
	// raw message.
	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(reencoded))

	chosen, err := decoded.DefaultAccount()
	require.NoError(t, err)
	require.Equal(t, "ARoundTrip", chosen.Address)
}

// TestDocumentValidate covers the single-default-account invariant.
func TestDocumentValidate(t *testing.T) {
	t.Parallel()

	doc := &Document{
		Name:    "Matrix_User_1",
		Version: documentVersion,
		Accounts: []Account{
			{Address: "a", IsDefault: true},
			{Address: "b", IsDefault: true},
		},
	}
	require.Error(t, doc.Validate())

	doc.Accounts[1].IsDefault = false
	require.NoError(t, doc.Validate())

	doc.Accounts[0].IsDefault = false
	require.Error(t, doc.Validate())
}
