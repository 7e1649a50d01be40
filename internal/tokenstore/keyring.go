package tokenstore

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const keyringService = "userdesk-cli"

// KeyringStore persists the access token in the OS keychain/credential
// manager, one slot per API host, so CLI invocations share a session.
type KeyringStore struct {
	key string
}

// NewKeyringStore returns a store whose slot is keyed by the API base URL.
func NewKeyringStore(apiURL string) *KeyringStore {
	return &KeyringStore{key: keyringKey(apiURL)}
}

// keyringKey returns a unique key for storing access tokens per API host
func keyringKey(apiURL string) string {
	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("access-token-%s", host)
}

func (k *KeyringStore) Save(token string) error {
	if err := keyring.Set(keyringService, k.key, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (k *KeyringStore) Load() (string, error) {
	token, err := keyring.Get(keyringService, k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

func (k *KeyringStore) Remove() error {
	if err := keyring.Delete(keyringService, k.key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
