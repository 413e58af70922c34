package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "triaged"

// Key builders for the secrets the daemon needs.
func AccountPasswordKey(accountID string) string {
	return "account:" + accountID + ":password"
}

func AccountRefreshTokenKey(accountID string) string {
	return "account:" + accountID + ":refresh_token"
}

const AnalysisAPIKey = "analysis:api_key"

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets. Keyring is the production
// implementation; tests substitute a map.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Store backed by the operating system keyring, falling back
// to an encrypted file under ~/.config/triaged/credentials.
type Keyring struct {
	// Open is called for each operation so the keychain is not held open.
	Open func() (keyring.Keyring, error)
}

// NewKeyring returns a Keyring using the default backends.
func NewKeyring() *Keyring {
	return &Keyring{Open: openKeyring}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/triaged/credentials",
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// filePassword protects the file backend. TRIAGE_KEYRING_PASSWORD lets a
// headless daemon unlock it.
func filePassword(prompt string) (string, error) {
	if p := os.Getenv("TRIAGE_KEYRING_PASSWORD"); p != "" {
		return p, nil
	}
	return keyring.FixedStringPrompt("triaged-file-key")(prompt)
}

// Get retrieves a credential value by key from the system keyring.
func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.Open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func (k *Keyring) Set(key string, value string) error {
	ring, err := k.Open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func (k *Keyring) Delete(key string) error {
	ring, err := k.Open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Lookup returns the value stored under key, or the value of envVar when
// the keyring has none. envVar may be empty.
func Lookup(s Store, key, envVar string) (string, error) {
	v, err := s.Get(key)
	if err == nil && v != "" {
		return v, nil
	}
	if envVar != "" {
		if ev := os.Getenv(envVar); ev != "" {
			return ev, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	return "", err
}
