package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tyemirov/stockpilot/internal/metrics"
	"github.com/tyemirov/stockpilot/internal/model"
)

type fakeCredentials struct {
	mutex        sync.Mutex
	accessToken  string
	refreshToken string
	readErr      error
	persistErr   error
	clearCalls   int
	userCleared  bool
	// replaceGate, when set, holds the next ReplaceAccessToken until closed.
	replaceGate    chan struct{}
	replaceStarted chan struct{}
}

func newFakeCredentials(accessToken string, refreshToken string) *fakeCredentials {
	return &fakeCredentials{accessToken: accessToken, refreshToken: refreshToken}
}

func (credentials *fakeCredentials) AccessToken(context.Context) (string, bool, error) {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	if credentials.readErr != nil {
		return "", false, credentials.readErr
	}
	return credentials.accessToken, credentials.accessToken != "", nil
}

func (credentials *fakeCredentials) RefreshToken(context.Context) (string, bool, error) {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	if credentials.readErr != nil {
		return "", false, credentials.readErr
	}
	return credentials.refreshToken, credentials.refreshToken != "", nil
}

func (credentials *fakeCredentials) SetTokens(_ context.Context, accessToken string, refreshToken string) error {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	if credentials.persistErr != nil {
		return credentials.persistErr
	}
	credentials.accessToken = accessToken
	credentials.refreshToken = refreshToken
	return nil
}

func (credentials *fakeCredentials) ReplaceAccessToken(_ context.Context, accessToken string) error {
	credentials.mutex.Lock()
	gate, started := credentials.replaceGate, credentials.replaceStarted
	credentials.replaceGate = nil
	credentials.mutex.Unlock()
	if gate != nil {
		close(started)
		<-gate
	}

	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	if credentials.persistErr != nil {
		return credentials.persistErr
	}
	credentials.accessToken = accessToken
	return nil
}

func (credentials *fakeCredentials) holdNextReplace() (started <-chan struct{}, release func()) {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	credentials.replaceGate = make(chan struct{})
	credentials.replaceStarted = make(chan struct{})
	gate := credentials.replaceGate
	return credentials.replaceStarted, func() { close(gate) }
}

func (credentials *fakeCredentials) ClearTokens(context.Context) error {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	credentials.clearCalls++
	credentials.accessToken = ""
	credentials.refreshToken = ""
	return nil
}

func (credentials *fakeCredentials) ClearUser(context.Context) error {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	credentials.userCleared = true
	return nil
}

func (credentials *fakeCredentials) tokens() (string, string) {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	return credentials.accessToken, credentials.refreshToken
}

func (credentials *fakeCredentials) cleared() int {
	credentials.mutex.Lock()
	defer credentials.mutex.Unlock()
	return credentials.clearCalls
}

// gatedTransport blocks every refresh until release is called.
type gatedTransport struct {
	calls    atomic.Int32
	gate     chan struct{}
	response model.RefreshResponse
	err      error
}

func newGatedTransport(response model.RefreshResponse, err error) *gatedTransport {
	return &gatedTransport{gate: make(chan struct{}), response: response, err: err}
}

func (transport *gatedTransport) Refresh(ctx context.Context, refreshToken string) (model.RefreshResponse, error) {
	transport.calls.Add(1)
	<-transport.gate
	return transport.response, transport.err
}

func (transport *gatedTransport) release() {
	close(transport.gate)
}

// tokenGuardedServer answers 200 only for the accepted bearer token.
func tokenGuardedServer(t *testing.T, acceptedToken string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		writer.Header().Set("Content-Type", "application/json")
		if request.Header.Get("Authorization") != "Bearer "+acceptedToken {
			writer.WriteHeader(http.StatusUnauthorized)
			_, _ = writer.Write([]byte(`{"error":"Token has expired"}`))
			return
		}
		_, _ = writer.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)
	return server
}

type pipelineFixture struct {
	pipeline    *Pipeline
	config      *Config
	credentials *fakeCredentials
	counter     *metrics.Counter
}

func newPipelineFixture(t *testing.T, baseURL string, credentials *fakeCredentials, transport RefreshTransport, refreshTimeout time.Duration) pipelineFixture {
	t.Helper()
	config, err := NewConfig(Settings{BaseURL: baseURL, RequestTimeout: 5 * time.Second, RefreshTimeout: refreshTimeout})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	counter := metrics.NewCounter()
	pipeline, err := New(Options{
		Config:           config,
		Credentials:      credentials,
		RefreshTransport: transport,
		Logger:           zaptest.NewLogger(t),
		Metrics:          counter,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return pipelineFixture{pipeline: pipeline, config: config, credentials: credentials, counter: counter}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

var errTestLogout = errors.New("logout")
