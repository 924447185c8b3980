package syncer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const keyringService = "docstow"

// CredentialStore keeps backend passwords and access tokens out of the
// synced config documents.
type CredentialStore interface {
	// Secret returns the stored secret, or "" if there is none.
	Secret(mode Mode, username string) (string, error)
	SetSecret(mode Mode, username, secret string) error
	DeleteSecret(mode Mode, username string) error
}

func account(mode Mode, username string) string {
	return string(mode) + ":" + username
}

// KeyringCredentials stores secrets in the OS keychain.
type KeyringCredentials struct{}

// Secret implements CredentialStore.
func (KeyringCredentials) Secret(mode Mode, username string) (string, error) {
	secret, err := keyring.Get(keyringService, account(mode, username))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret from OS keychain: %w", err)
	}
	return secret, nil
}

// SetSecret implements CredentialStore.
func (KeyringCredentials) SetSecret(mode Mode, username, secret string) error {
	if err := keyring.Set(keyringService, account(mode, username), secret); err != nil {
		return fmt.Errorf("failed to store secret in OS keychain: %w", err)
	}
	return nil
}

// DeleteSecret implements CredentialStore.
func (KeyringCredentials) DeleteSecret(mode Mode, username string) error {
	err := keyring.Delete(keyringService, account(mode, username))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove secret from OS keychain: %w", err)
	}
	return nil
}

// MemoryCredentials keeps secrets in memory. Tests and headless runs use it.
type MemoryCredentials struct {
	mu      sync.Mutex
	secrets map[string]string
}

// NewMemoryCredentials creates an empty in-memory credential store.
func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{secrets: make(map[string]string)}
}

// Secret implements CredentialStore.
func (m *MemoryCredentials) Secret(mode Mode, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[account(mode, username)], nil
}

// SetSecret implements CredentialStore.
func (m *MemoryCredentials) SetSecret(mode Mode, username, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[account(mode, username)] = secret
	return nil
}

// DeleteSecret implements CredentialStore.
func (m *MemoryCredentials) DeleteSecret(mode Mode, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, account(mode, username))
	return nil
}
