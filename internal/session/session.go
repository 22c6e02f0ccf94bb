// Package session owns the in-memory authentication state of the client:
// login and registration, logout, optimistic restore with background
// revalidation, and reaction to terminal refresh failures.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/apiclient"
	"github.com/tyemirov/stockpilot/internal/model"
)

// Backend endpoints used by the session.
const (
	LoginPath    = "/api/auth/login"
	RegisterPath = "/api/auth/register"
	IdentityPath = "/api/auth/me"
)

var (
	// ErrLoggedOut is the abort cause given to a refresh torn down by Logout.
	ErrLoggedOut = errors.New("session.logged_out")
	// ErrRevalidationSuperseded means a newer login, logout or restore replaced the revalidation.
	ErrRevalidationSuperseded = errors.New("session.revalidation_superseded")
)

// Reason explains a State transition.
type Reason string

const (
	ReasonLogin       Reason = "login"
	ReasonRegister    Reason = "register"
	ReasonRestored    Reason = "restored"
	ReasonRevalidated Reason = "revalidated"
	ReasonUserUpdated Reason = "user_updated"
	ReasonLogout      Reason = "logout"
	ReasonExpired     Reason = "expired"
)

// State is the snapshot delivered to subscribers.
type State struct {
	Authenticated bool
	User          *model.User
	Reason        Reason
	// Err carries the refresh failure for ReasonExpired.
	Err error
}

// Client is the slice of the request pipeline the session depends on.
type Client interface {
	Call(ctx context.Context, request apiclient.Request, out any) error
	BeginSession(ctx context.Context, accessToken string, refreshToken string) error
	EndSession(ctx context.Context, cause error) error
	OnSessionExpired(listener apiclient.ExpiryNotifier)
}

// CredentialStore persists tokens and the cached user.
type CredentialStore interface {
	AccessToken(ctx context.Context) (string, bool, error)
	SetUser(ctx context.Context, user model.User) error
	User(ctx context.Context) (model.User, bool, error)
}

// AuthSession tracks whether the user is authenticated.
type AuthSession struct {
	client      Client
	credentials CredentialStore
	logger      *zap.Logger

	mutex         sync.Mutex
	authenticated bool
	user          *model.User
	// generation increments on every login, logout, restore and expiry so
	// that a revalidation started earlier cannot overwrite newer state.
	generation   uint64
	revalidation *Revalidation

	listenersMutex sync.Mutex
	nextListenerID int
	listeners      map[int]func(State)
}

// New creates a logged-out session and registers it for refresh-failure notifications.
func New(client Client, credentials CredentialStore, logger *zap.Logger) *AuthSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	session := &AuthSession{
		client:      client,
		credentials: credentials,
		logger:      logger,
		listeners:   make(map[int]func(State)),
	}
	client.OnSessionExpired(session.handleExpired)
	return session
}

// Authenticated reports the in-memory authentication flag.
func (session *AuthSession) Authenticated() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.authenticated
}

// CurrentUser returns a copy of the cached user, or nil.
func (session *AuthSession) CurrentUser() *model.User {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return copyUser(session.user)
}

// Subscribe registers listener for state changes and returns its cancel function.
// Listeners run synchronously on the goroutine that caused the change.
func (session *AuthSession) Subscribe(listener func(State)) func() {
	session.listenersMutex.Lock()
	defer session.listenersMutex.Unlock()
	identifier := session.nextListenerID
	session.nextListenerID++
	session.listeners[identifier] = listener
	return func() {
		session.listenersMutex.Lock()
		defer session.listenersMutex.Unlock()
		delete(session.listeners, identifier)
	}
}

// Login authenticates with username and password.
func (session *AuthSession) Login(ctx context.Context, request model.LoginRequest) (*model.User, error) {
	if err := model.Validate(request); err != nil {
		return nil, err
	}
	return session.authenticate(ctx, LoginPath, request, ReasonLogin)
}

// Register creates an account and signs in with it.
func (session *AuthSession) Register(ctx context.Context, request model.RegisterRequest) (*model.User, error) {
	if err := model.Validate(request); err != nil {
		return nil, err
	}
	return session.authenticate(ctx, RegisterPath, request, ReasonRegister)
}

func (session *AuthSession) authenticate(ctx context.Context, path string, payload any, reason Reason) (*model.User, error) {
	request, err := apiclient.NewRequest(http.MethodPost, path).AsAnonymous().WithJSON(payload)
	if err != nil {
		return nil, err
	}
	var response model.AuthResponse
	if err := session.client.Call(ctx, request, &response); err != nil {
		return nil, fmt.Errorf("session.%s: %w", reason, err)
	}
	if response.User == nil || strings.TrimSpace(response.AccessToken) == "" || strings.TrimSpace(response.RefreshToken) == "" {
		return nil, fmt.Errorf("session.%s: %w: user, access_token and refresh_token are required", reason, apiclient.ErrMalformedResponse)
	}
	if err := session.client.BeginSession(ctx, response.AccessToken, response.RefreshToken); err != nil {
		return nil, fmt.Errorf("session.%s: %w", reason, err)
	}
	if err := session.credentials.SetUser(ctx, *response.User); err != nil {
		session.logger.Warn("failed to cache user",
			zap.String("code", "session.cache_user_failed"),
			zap.Error(err))
	}

	user := copyUser(response.User)
	session.mutex.Lock()
	session.generation++
	previous := session.revalidation
	session.revalidation = nil
	session.authenticated = true
	session.user = user
	session.mutex.Unlock()

	previous.Cancel()
	session.logger.Info("signed in", zap.String("username", user.Username), zap.String("reason", string(reason)))
	session.publish(State{Authenticated: true, User: copyUser(user), Reason: reason})
	return copyUser(user), nil
}

// Logout ends the session. It aborts a pending refresh, stops background
// revalidation and clears stored credentials. Storage failures are logged;
// the session always ends up logged out.
func (session *AuthSession) Logout(ctx context.Context) {
	session.mutex.Lock()
	session.generation++
	previous := session.revalidation
	session.revalidation = nil
	session.authenticated = false
	session.user = nil
	session.mutex.Unlock()

	previous.Cancel()
	if err := session.client.EndSession(ctx, ErrLoggedOut); err != nil {
		session.logger.Warn("failed to clear credentials on logout",
			zap.String("code", "session.logout.clear_failed"),
			zap.Error(err))
	}
	session.publish(State{Reason: ReasonLogout})
}

// RestoreSession loads the cached user and access token. When both are
// present the session is authenticated immediately and the identity is
// revalidated in the background; the returned Revalidation observes that task.
// Revalidation failures keep the cached state.
func (session *AuthSession) RestoreSession(ctx context.Context) (*model.User, *Revalidation) {
	cachedUser, userFound, err := session.credentials.User(ctx)
	if err != nil {
		session.logger.Warn("cached user unavailable", zap.String("code", "session.restore.user_read_failed"), zap.Error(err))
		return nil, nil
	}
	_, tokenFound, err := session.credentials.AccessToken(ctx)
	if err != nil {
		session.logger.Warn("access token unavailable", zap.String("code", "session.restore.token_read_failed"), zap.Error(err))
		return nil, nil
	}
	if !userFound || !tokenFound {
		return nil, nil
	}

	revalidationContext, cancel := context.WithCancel(ctx)
	revalidation := newRevalidation(cancel)

	session.mutex.Lock()
	session.generation++
	generation := session.generation
	previous := session.revalidation
	session.revalidation = revalidation
	session.authenticated = true
	session.user = copyUser(&cachedUser)
	session.mutex.Unlock()

	previous.Cancel()
	session.publish(State{Authenticated: true, User: copyUser(&cachedUser), Reason: ReasonRestored})
	go session.revalidate(revalidationContext, generation, revalidation)
	return copyUser(&cachedUser), revalidation
}

func (session *AuthSession) revalidate(ctx context.Context, generation uint64, revalidation *Revalidation) {
	defer revalidation.cancel()
	user, err := session.fetchIdentity(ctx)
	if err != nil {
		session.logger.Info("session revalidation failed; keeping cached state", zap.Error(err))
		revalidation.settle(nil, err)
		return
	}

	session.mutex.Lock()
	if session.generation != generation {
		session.mutex.Unlock()
		revalidation.settle(nil, ErrRevalidationSuperseded)
		return
	}
	session.user = copyUser(user)
	session.revalidation = nil
	session.mutex.Unlock()

	if err := session.credentials.SetUser(ctx, *user); err != nil {
		session.logger.Warn("failed to cache revalidated user", zap.String("code", "session.cache_user_failed"), zap.Error(err))
	}
	session.publish(State{Authenticated: true, User: copyUser(user), Reason: ReasonRevalidated})
	revalidation.settle(user, nil)
}

// RefreshUser re-fetches the identity and updates the cache. Errors are
// returned to the caller and never end the session by themselves.
func (session *AuthSession) RefreshUser(ctx context.Context) (*model.User, error) {
	user, err := session.fetchIdentity(ctx)
	if err != nil {
		return nil, err
	}
	session.mutex.Lock()
	authenticated := session.authenticated
	if authenticated {
		session.user = copyUser(user)
	}
	session.mutex.Unlock()

	if err := session.credentials.SetUser(ctx, *user); err != nil {
		return copyUser(user), fmt.Errorf("session.refresh_user: %w", err)
	}
	if authenticated {
		session.publish(State{Authenticated: true, User: copyUser(user), Reason: ReasonUserUpdated})
	}
	return copyUser(user), nil
}

func (session *AuthSession) fetchIdentity(ctx context.Context) (*model.User, error) {
	var payload json.RawMessage
	if err := session.client.Call(ctx, apiclient.NewRequest(http.MethodGet, IdentityPath), &payload); err != nil {
		return nil, fmt.Errorf("session.identity: %w", err)
	}
	return decodeIdentity(payload)
}

// decodeIdentity accepts both a bare user object and {"user": {...}}.
func decodeIdentity(payload []byte) (*model.User, error) {
	var wrapped struct {
		User *model.User `json:"user"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("session.identity: %w: %v", apiclient.ErrMalformedResponse, err)
	}
	if wrapped.User != nil {
		return wrapped.User, nil
	}
	var user model.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("session.identity: %w: %v", apiclient.ErrMalformedResponse, err)
	}
	if user.ID == 0 && user.Username == "" {
		return nil, fmt.Errorf("session.identity: %w: user missing", apiclient.ErrMalformedResponse)
	}
	return &user, nil
}

// handleExpired runs when the pipeline reports a terminal refresh failure.
// Credentials were already cleared by the refresh coordinator.
func (session *AuthSession) handleExpired(ctx context.Context, cause error) {
	if errors.Is(cause, apiclient.ErrRefreshAborted) {
		return
	}
	// A failed refresh clears the store; a token present now belongs to a
	// later login.
	if accessToken, found, err := session.credentials.AccessToken(ctx); err == nil && found && accessToken != "" {
		session.logger.Debug("ignoring refresh failure of a replaced session", zap.Error(cause))
		return
	}
	session.mutex.Lock()
	if !session.authenticated {
		session.mutex.Unlock()
		return
	}
	session.generation++
	previous := session.revalidation
	session.revalidation = nil
	session.authenticated = false
	session.user = nil
	session.mutex.Unlock()

	previous.Cancel()
	session.logger.Info("session expired", zap.Error(cause))
	session.publish(State{Reason: ReasonExpired, Err: cause})
}

func (session *AuthSession) publish(state State) {
	session.listenersMutex.Lock()
	listeners := make([]func(State), 0, len(session.listeners))
	for _, listener := range session.listeners {
		listeners = append(listeners, listener)
	}
	session.listenersMutex.Unlock()
	for _, listener := range listeners {
		listener(state)
	}
}

func copyUser(user *model.User) *model.User {
	if user == nil {
		return nil
	}
	copied := *user
	if user.UpdatedAt != nil {
		updatedAt := *user.UpdatedAt
		copied.UpdatedAt = &updatedAt
	}
	return &copied
}
