package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service name used when none is configured.
const DefaultKeyringService = "stockpilot"

// KeyringStore keeps entries in the operating system keychain.
type KeyringStore struct {
	service string
}

// NewKeyringStore constructs a keychain-backed store for service.
func NewKeyringStore(service string) *KeyringStore {
	if strings.TrimSpace(service) == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Service returns the keychain service name.
func (store *KeyringStore) Service() string {
	return store.service
}

// Get returns the secret stored under key.
func (store *KeyringStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	value, err := keyring.Get(store.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore.get.keyring: %w", err)
	}
	return value, true, nil
}

// Set stores value under key.
func (store *KeyringStore) Set(ctx context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := keyring.Set(store.service, key, value); err != nil {
		return fmt.Errorf("kvstore.set.keyring: %w", err)
	}
	return nil
}

// Remove deletes key; a missing entry is not an error.
func (store *KeyringStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := keyring.Delete(store.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("kvstore.remove.keyring: %w", err)
	}
	return nil
}

// Close is a no-op for the keychain.
func (store *KeyringStore) Close() error {
	return nil
}
