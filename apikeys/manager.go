package apikeys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Fe0mathar/KeyMaker/vault"
)

const (
	// RecordName is the well-known name of the single config record in
	// the vault.
	RecordName = "api_keys.txt"
)

// Labels of the credentials the console knows how to prompt for. The
// manager itself treats them as ordinary keys.
const (
	KeyChatGPT                  = "ChatGPT API Key"
	KeyTwitterConsumerKey       = "Twitter Consumer Key"
	KeyTwitterConsumerSecret    = "Twitter Consumer Secret"
	KeyTwitterAccessToken       = "Twitter Access Token"
	KeyTwitterAccessTokenSecret = "Twitter Access Token Secret"
)

// WellKnownKeys returns the credential labels the console offers to fill
// in, in their display order.
func WellKnownKeys() []string {
	return []string{
		KeyChatGPT,
		KeyTwitterConsumerKey,
		KeyTwitterConsumerSecret,
		KeyTwitterAccessToken,
		KeyTwitterAccessTokenSecret,
	}
}

// Slugs returns the short names accepted on command lines, mapped to the
// credential labels above.
func Slugs() map[string]string {
	return map[string]string{
		"chatgpt":                     KeyChatGPT,
		"twitter-consumer-key":        KeyTwitterConsumerKey,
		"twitter-consumer-secret":     KeyTwitterConsumerSecret,
		"twitter-access-token":        KeyTwitterAccessToken,
		"twitter-access-token-secret": KeyTwitterAccessTokenSecret,
	}
}

// Keys is an ordered key/value mapping. Entries keep the order they were
// first set in, which is also the order they are written to the config
// record in.
type Keys struct {
	names  []string
	values map[string]string
}

// NewKeys returns an empty mapping.
func NewKeys() *Keys {
	return &Keys{values: make(map[string]string)}
}

// Set adds or replaces a key. A replaced key keeps its original position.
func (k *Keys) Set(name, value string) {
	if _, ok := k.values[name]; !ok {
		k.names = append(k.names, name)
	}
	k.values[name] = value
}

// Get returns the value for a key and whether it is present.
func (k *Keys) Get(name string) (string, bool) {
	value, ok := k.values[name]
	return value, ok
}

// Names returns the keys in insertion order.
func (k *Keys) Names() []string {
	return append([]string(nil), k.names...)
}

// Len returns the number of keys present.
func (k *Keys) Len() int {
	return len(k.names)
}

// Vault is the slice of the encrypted archive store the config manager
// needs. *vault.Store satisfies it.
type Vault interface {
	// ReadRecord returns the payload of the named record.
	ReadRecord(name string) ([]byte, error)

	// ReplaceRecord rewrites the named record while preserving every
	// other record unchanged.
	ReplaceRecord(name string, payload []byte) error
}

// Manager performs the read-modify-write cycle of the single config record
// without disturbing any other record in the vault.
type Manager struct {
	vault Vault
}

// NewManager returns a config manager reading and writing through the
// passed vault.
func NewManager(v Vault) *Manager {
	return &Manager{vault: v}
}

// Load reads the config record and parses it into an ordered mapping. A
// vault without the record yields an empty mapping, not an error. Each
// line holds one "Key Name: value" pair; the first colon is the delimiter
// and surrounding whitespace is trimmed, so values are free to contain
// colons. Lines without a colon are skipped.
func (m *Manager) Load() (*Keys, error) {
	keys := NewKeys()

	payload, err := m.vault.ReadRecord(RecordName)
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return keys, nil
	case err != nil:
		return nil, err
	}

	for _, line := range strings.Split(string(payload), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			log.Debugf("Skipping config line without delimiter: "+
				"%q", line)
			continue
		}

		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		keys.Set(name, value)
	}

	return keys, nil
}

// Save serializes the mapping back to the line format, one key per line in
// insertion order, and replaces the config record. Every other record in
// the vault is preserved byte for byte by the underlying rewrite.
func (m *Manager) Save(keys *Keys) error {
	var builder strings.Builder
	for _, name := range keys.names {
		fmt.Fprintf(&builder, "%s: %s\n", name, keys.values[name])
	}

	err := m.vault.ReplaceRecord(RecordName, []byte(builder.String()))
	if err != nil {
		return err
	}

	log.Infof("Saved %d API keys to the vault", keys.Len())
	return nil
}
