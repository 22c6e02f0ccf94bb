package kvstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory store intended for tests and throwaway sessions.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]string
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Get returns the value stored under key.
func (store *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.closed {
		return "", false, ErrClosed
	}
	value, ok := store.entries[key]
	return value, ok, nil
}

// Set stores value under key, replacing any previous value.
func (store *MemoryStore) Set(ctx context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.closed {
		return ErrClosed
	}
	store.entries[key] = value
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (store *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.closed {
		return ErrClosed
	}
	delete(store.entries, key)
	return nil
}

// Close marks the store closed; subsequent operations fail with ErrClosed.
func (store *MemoryStore) Close() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.closed = true
	return nil
}

// Len returns the number of stored keys.
func (store *MemoryStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.entries)
}
