// Package credentials persists the access token, refresh token, cached user
// record, and API base URL. It is the only package that touches durable storage.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tyemirov/stockpilot/internal/kvstore"
	"github.com/tyemirov/stockpilot/internal/model"
	"go.uber.org/zap"
)

// Storage keys. Each entry is independently addressable.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyBaseURL      = "api_url"
)

// Store reads and writes credentials through a kvstore.Store.
type Store struct {
	backend kvstore.Store
	logger  *zap.Logger
}

// NewStore wraps backend. A nil logger is replaced with a no-op logger.
func NewStore(backend kvstore.Store, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, ErrMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// AccessToken returns the stored access token.
func (store *Store) AccessToken(ctx context.Context) (string, bool, error) {
	return store.readString(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token.
func (store *Store) RefreshToken(ctx context.Context) (string, bool, error) {
	return store.readString(ctx, KeyRefreshToken)
}

// SetTokens persists both tokens. If the refresh token cannot be written the
// access token write is rolled back so the pair never persists half-written.
func (store *Store) SetTokens(ctx context.Context, accessToken string, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" || strings.TrimSpace(refreshToken) == "" {
		return ErrEmptyToken
	}
	if err := store.writeJSON(ctx, KeyAccessToken, accessToken); err != nil {
		return err
	}
	if err := store.writeJSON(ctx, KeyRefreshToken, refreshToken); err != nil {
		if rollbackErr := store.remove(ctx, KeyAccessToken); rollbackErr != nil {
			store.logger.Error("credential rollback failed",
				zap.String("code", "credentials.set_tokens.rollback_failed"),
				zap.Error(rollbackErr))
		}
		return err
	}
	return nil
}

// ReplaceAccessToken overwrites the access token and keeps the refresh token.
func (store *Store) ReplaceAccessToken(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrEmptyToken
	}
	return store.writeJSON(ctx, KeyAccessToken, accessToken)
}

// ClearTokens removes both tokens. Clearing an empty store is not an error;
// both removals are attempted even when the first fails.
func (store *Store) ClearTokens(ctx context.Context) error {
	accessErr := store.remove(ctx, KeyAccessToken)
	refreshErr := store.remove(ctx, KeyRefreshToken)
	return errors.Join(accessErr, refreshErr)
}

// SetUser caches the user record.
func (store *Store) SetUser(ctx context.Context, user model.User) error {
	return store.writeJSON(ctx, KeyUser, user)
}

// User returns the cached user record.
func (store *Store) User(ctx context.Context) (model.User, bool, error) {
	var user model.User
	found, err := store.readJSON(ctx, KeyUser, &user)
	if err != nil || !found {
		return model.User{}, false, err
	}
	return user, true, nil
}

// ClearUser removes the cached user record.
func (store *Store) ClearUser(ctx context.Context) error {
	return store.remove(ctx, KeyUser)
}

// BaseURL returns the persisted API base URL.
func (store *Store) BaseURL(ctx context.Context) (string, bool, error) {
	return store.readString(ctx, KeyBaseURL)
}

// SaveBaseURL persists the API base URL.
func (store *Store) SaveBaseURL(ctx context.Context, baseURL string) error {
	return store.writeJSON(ctx, KeyBaseURL, baseURL)
}

// ClearBaseURL removes the persisted API base URL.
func (store *Store) ClearBaseURL(ctx context.Context) error {
	return store.remove(ctx, KeyBaseURL)
}

func (store *Store) readString(ctx context.Context, key string) (string, bool, error) {
	var value string
	found, err := store.readJSON(ctx, key, &value)
	if err != nil || !found {
		return "", false, err
	}
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (store *Store) readJSON(ctx context.Context, key string, target any) (bool, error) {
	raw, found, err := store.backend.Get(ctx, key)
	if err != nil {
		return false, &StorageError{Operation: "get", Key: key, Cause: err}
	}
	if !found {
		return false, nil
	}
	if decodeErr := json.Unmarshal([]byte(raw), target); decodeErr != nil {
		return false, &StorageError{Operation: "decode", Key: key, Cause: decodeErr}
	}
	return true, nil
}

func (store *Store) writeJSON(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return &StorageError{Operation: "encode", Key: key, Cause: err}
	}
	if setErr := store.backend.Set(ctx, key, string(encoded)); setErr != nil {
		return &StorageError{Operation: "set", Key: key, Cause: setErr}
	}
	return nil
}

func (store *Store) remove(ctx context.Context, key string) error {
	if err := store.backend.Remove(ctx, key); err != nil {
		return &StorageError{Operation: "remove", Key: key, Cause: err}
	}
	return nil
}
