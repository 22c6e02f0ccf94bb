package devapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/tyemirov/stockpilot/internal/model"
)

var (
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("devapi.users.username_taken")
	// ErrEmailTaken is returned when registering an existing email.
	ErrEmailTaken = errors.New("devapi.users.email_taken")
	// ErrInvalidCredentials is returned for an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("devapi.users.invalid_credentials")
	// ErrUserNotFound is returned when a user id is unknown.
	ErrUserNotFound = errors.New("devapi.users.not_found")
)

// UserStore keeps accounts in memory with bcrypt password hashes.
type UserStore struct {
	mutex      sync.Mutex
	clock      Clock
	bcryptCost int
	byID       map[int64]*userRecord
	byUsername map[string]int64
	byEmail    map[string]int64
	nextID     int64
}

type userRecord struct {
	user         model.User
	passwordHash []byte
}

// NewUserStore creates an empty store.
func NewUserStore(clock Clock, bcryptCost int) *UserStore {
	if clock == nil {
		clock = SystemClock{}
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserStore{
		clock:      clock,
		bcryptCost: bcryptCost,
		byID:       make(map[int64]*userRecord),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
	}
}

// Create registers a new account. Usernames and emails are unique case-insensitively.
func (store *UserStore) Create(ctx context.Context, request model.RegisterRequest) (model.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(request.Password), store.bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("devapi.users.hash: %w", err)
	}
	usernameKey := strings.ToLower(strings.TrimSpace(request.Username))
	emailKey := strings.ToLower(strings.TrimSpace(request.Email))

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byUsername[usernameKey]; exists {
		return model.User{}, ErrUsernameTaken
	}
	if _, exists := store.byEmail[emailKey]; exists {
		return model.User{}, ErrEmailTaken
	}
	store.nextID++
	user := model.User{
		ID:        store.nextID,
		Username:  strings.TrimSpace(request.Username),
		Email:     strings.TrimSpace(request.Email),
		CreatedAt: store.clock.Now(),
	}
	store.byID[user.ID] = &userRecord{user: user, passwordHash: passwordHash}
	store.byUsername[usernameKey] = user.ID
	store.byEmail[emailKey] = user.ID
	return user, nil
}

// Authenticate checks a username and password.
func (store *UserStore) Authenticate(ctx context.Context, username string, password string) (model.User, error) {
	store.mutex.Lock()
	userID, exists := store.byUsername[strings.ToLower(strings.TrimSpace(username))]
	var record userRecord
	if exists {
		record = *store.byID[userID]
	}
	store.mutex.Unlock()

	if !exists {
		return model.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)); err != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return record.user, nil
}

// Get returns the user with id.
func (store *UserStore) Get(ctx context.Context, id int64) (model.User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, exists := store.byID[id]
	if !exists {
		return model.User{}, ErrUserNotFound
	}
	return record.user, nil
}

// UpdateEmail changes a user's email and stamps UpdatedAt.
func (store *UserStore) UpdateEmail(ctx context.Context, id int64, email string) (model.User, error) {
	emailKey := strings.ToLower(strings.TrimSpace(email))
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, exists := store.byID[id]
	if !exists {
		return model.User{}, ErrUserNotFound
	}
	if owner, taken := store.byEmail[emailKey]; taken && owner != id {
		return model.User{}, ErrEmailTaken
	}
	delete(store.byEmail, strings.ToLower(record.user.Email))
	record.user.Email = strings.TrimSpace(email)
	updatedAt := store.clock.Now()
	record.user.UpdatedAt = &updatedAt
	store.byEmail[emailKey] = id
	return record.user, nil
}
