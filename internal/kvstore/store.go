package kvstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Store is a string-keyed key/value persistence engine.
// Get reports absence through found=false; errors are reserved for I/O failures.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open resolves a store URL into a backend.
//
// Supported schemes: memory, sqlite, sqlite3, postgres, postgresql, redis, rediss, keyring.
// An empty URL selects the in-memory store.
func Open(ctx context.Context, storeURL string) (Store, error) {
	trimmed := strings.TrimSpace(storeURL)
	if trimmed == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("kvstore.parse_url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "":
		return nil, fmt.Errorf("kvstore.open: %w", errUnsupportedNoScheme)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "postgres", "postgresql":
		return NewDatabaseStore(ctx, trimmed)
	case "redis", "rediss":
		return NewRedisStore(ctx, trimmed)
	case "keyring":
		return NewKeyringStore(parsed.Host), nil
	default:
		return nil, fmt.Errorf("kvstore.open.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
