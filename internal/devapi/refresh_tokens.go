package devapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

const refreshOpaqueByteLength = 32

// RefreshTokenStore keeps opaque refresh tokens in memory, indexed by their SHA-256 hash.
type RefreshTokenStore struct {
	mutex      sync.Mutex
	clock      Clock
	byID       map[string]*refreshRecord
	byHash     map[string]string
	sequenceID uint64
}

type refreshRecord struct {
	tokenID         string
	userID          int64
	hash            string
	expiresAt       time.Time
	revokedAt       time.Time
	previousTokenID string
}

// NewRefreshTokenStore creates an empty store.
func NewRefreshTokenStore(clock Clock) *RefreshTokenStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RefreshTokenStore{
		clock:  clock,
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a token for userID, optionally linked to the token it replaces.
func (store *RefreshTokenStore) Issue(ctx context.Context, userID int64, expiresAt time.Time, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.sequenceID++
	tokenID := "rt-" + strconv.FormatUint(store.sequenceID, 10)
	store.byID[tokenID] = &refreshRecord{
		tokenID:         tokenID,
		userID:          userID,
		hash:            hashValue,
		expiresAt:       expiresAt,
		previousTokenID: previousTokenID,
	}
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate resolves an opaque token to its user and token id.
func (store *RefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (int64, string, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return 0, "", ErrRefreshTokenEmptyOpaque
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return 0, "", ErrRefreshTokenNotFound
	}
	record := store.byID[tokenID]
	if record == nil {
		return 0, "", ErrRefreshTokenNotFound
	}
	if !record.revokedAt.IsZero() {
		return 0, "", ErrRefreshTokenRevoked
	}
	if !record.expiresAt.After(store.clock.Now()) {
		return 0, "", ErrRefreshTokenExpired
	}
	return record.userID, record.tokenID, nil
}

// Revoke marks a token as revoked. Revoking twice is not an error.
func (store *RefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return ErrRefreshTokenNotFound
	}
	if record.revokedAt.IsZero() {
		record.revokedAt = store.clock.Now()
	}
	return nil
}

// RevokeUser revokes every active token of userID and returns how many were revoked.
func (store *RefreshTokenStore) RevokeUser(ctx context.Context, userID int64) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	revoked := 0
	now := store.clock.Now()
	for _, record := range store.byID {
		if record.userID == userID && record.revokedAt.IsZero() {
			record.revokedAt = now
			revoked++
		}
	}
	return revoked
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
