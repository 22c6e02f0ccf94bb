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

	"github.com/tyemirov/stockpilot/internal/model"
)

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	server := tokenGuardedServer(t, "fresh-access", nil)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	transport := newGatedTransport(model.RefreshResponse{AccessToken: "fresh-access"}, nil)
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	const callers = 8
	var group sync.WaitGroup
	results := make([]error, callers)
	for index := 0; index < callers; index++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			var payload struct {
				OK bool `json:"ok"`
			}
			results[index] = fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, &payload)
			if results[index] == nil && !payload.OK {
				results[index] = errors.New("payload not decoded")
			}
		}(index)
	}

	waitFor(t, "all callers to join the refresh", func() bool {
		return fixture.pipeline.Coordinator().waiterCount() == callers
	})
	transport.release()
	group.Wait()

	for index, err := range results {
		if err != nil {
			t.Fatalf("caller %d failed: %v", index, err)
		}
	}
	if calls := transport.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly one refresh transport call, got %d", calls)
	}
	if access, refresh := credentials.tokens(); access != "fresh-access" || refresh != "refresh-1" {
		t.Fatalf("unexpected stored tokens %q/%q", access, refresh)
	}
	if replayed := fixture.counter.Count(MetricRequestReplayed); replayed != callers {
		t.Fatalf("expected %d replays, got %d", callers, replayed)
	}
	if fixture.pipeline.Coordinator().InFlight() {
		t.Fatalf("coordinator should be idle after settling")
	}
}

func TestRefreshFailureClearsCredentialsAndNotifiesOnce(t *testing.T) {
	server := tokenGuardedServer(t, "never", nil)
	credentials := newFakeCredentials("stale-access", "revoked-refresh")
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		return model.RefreshResponse{}, &HTTPError{StatusCode: http.StatusUnauthorized, Message: "Invalid refresh token"}
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	var notifications atomic.Int32
	fixture.pipeline.OnSessionExpired(func(ctx context.Context, cause error) {
		if !errors.Is(cause, ErrRefreshFailed) {
			t.Errorf("listener received %v", cause)
		}
		notifications.Add(1)
	})

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	var httpError *HTTPError
	if !errors.As(err, &httpError) || httpError.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected refresh cause to be preserved, got %v", err)
	}
	if access, refresh := credentials.tokens(); access != "" || refresh != "" {
		t.Fatalf("expected credentials cleared, got %q/%q", access, refresh)
	}
	credentials.mutex.Lock()
	userCleared := credentials.userCleared
	credentials.mutex.Unlock()
	if !userCleared {
		t.Fatalf("expected cached user cleared on refresh failure")
	}
	if notifications.Load() != 1 {
		t.Fatalf("expected one expiry notification, got %d", notifications.Load())
	}
}

func TestReplayedUnauthorizedIsReturnedWithoutSecondRefresh(t *testing.T) {
	var hits atomic.Int32
	server := tokenGuardedServer(t, "never", &hits)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "still-rejected"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	if !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("expected the replay's 401 to surface, got %v", err)
	}
	if errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("a rejected replay is not a refresh failure: %v", err)
	}
	if apiError := UserMessage(err); apiError != "Token has expired" {
		t.Fatalf("unexpected message %q", apiError)
	}
	if transportCalls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", transportCalls.Load())
	}
	if hits.Load() != 2 {
		t.Fatalf("expected original send plus one replay, got %d sends", hits.Load())
	}
}

func TestMissingRefreshTokenFailsClosedWithoutNetworkCall(t *testing.T) {
	server := tokenGuardedServer(t, "never", nil)
	credentials := newFakeCredentials("stale-access", "")
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "unexpected"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected refresh failure due to missing refresh token, got %v", err)
	}
	if transportCalls.Load() != 0 {
		t.Fatalf("transport must not be called without a refresh token")
	}
	if credentials.cleared() != 1 {
		t.Fatalf("expected credentials cleared once, got %d", credentials.cleared())
	}
}

func TestRefreshTimeoutIsTerminal(t *testing.T) {
	server := tokenGuardedServer(t, "never", nil)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	transport := RefreshTransportFunc(func(ctx context.Context, _ string) (model.RefreshResponse, error) {
		<-ctx.Done()
		return model.RefreshResponse{}, ctx.Err()
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, 50*time.Millisecond)

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timed out refresh failure, got %v", err)
	}
	if access, _ := credentials.tokens(); access != "" {
		t.Fatalf("expected credentials cleared after timeout")
	}
	if fixture.pipeline.Coordinator().InFlight() {
		t.Fatalf("coordinator should return to idle after a timeout")
	}
}

func TestStaleRejectionReplaysWithStoredTokenWithoutRefreshing(t *testing.T) {
	server := tokenGuardedServer(t, "current-access", nil)
	credentials := newFakeCredentials("current-access", "refresh-1")
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "unexpected"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	request := NewRequest(http.MethodGet, "/api/inventory").WithBearer("superseded-access")
	if err := fixture.pipeline.Call(context.Background(), request, nil); err != nil {
		t.Fatalf("expected replay with stored token to succeed, got %v", err)
	}
	if transportCalls.Load() != 0 {
		t.Fatalf("refresh should be skipped when a newer token is already stored")
	}
	if fixture.counter.Count(MetricRefreshSkippedStale) != 1 {
		t.Fatalf("expected skipped_stale metric")
	}
}

func TestRejectionDuringTokenPersistenceDoesNotStartSecondRefresh(t *testing.T) {
	var hits atomic.Int32
	server := tokenGuardedServer(t, "fresh-access", &hits)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	persisting, releasePersist := credentials.holdNextReplace()
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "fresh-access"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	call := func() <-chan error {
		result := make(chan error, 1)
		go func() {
			result <- fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
		}()
		return result
	}

	first := call()
	select {
	case <-persisting:
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh never reached token persistence")
	}
	second := call()
	waitFor(t, "second request to be rejected", func() bool { return hits.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	releasePersist()

	for index, result := range []<-chan error{first, second} {
		select {
		case err := <-result:
			if err != nil {
				t.Fatalf("request %d failed: %v", index, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d did not finish", index)
		}
	}
	if calls := transportCalls.Load(); calls != 1 {
		t.Fatalf("expected one refresh transport call, got %d", calls)
	}
	if fixture.counter.Count(MetricRefreshSkippedStale) != 1 {
		t.Fatalf("expected the second request to reuse the persisted token")
	}
}

func TestBaseURLChangeAppliesToReplay(t *testing.T) {
	var oldHits, newHits atomic.Int32
	oldServer := tokenGuardedServer(t, "never", &oldHits)
	newServer := tokenGuardedServer(t, "fresh-access", &newHits)
	credentials := newFakeCredentials("stale-access", "refresh-1")

	var fixture pipelineFixture
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		if err := fixture.config.SetBaseURL(newServer.URL); err != nil {
			return model.RefreshResponse{}, err
		}
		return model.RefreshResponse{AccessToken: "fresh-access", RefreshToken: "refresh-2"}, nil
	})
	fixture = newPipelineFixture(t, oldServer.URL, credentials, transport, time.Second)

	if err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil); err != nil {
		t.Fatalf("expected replay against new base URL to succeed, got %v", err)
	}
	if oldHits.Load() != 1 || newHits.Load() != 1 {
		t.Fatalf("expected one send per server, got old=%d new=%d", oldHits.Load(), newHits.Load())
	}
	if access, refresh := credentials.tokens(); access != "fresh-access" || refresh != "refresh-2" {
		t.Fatalf("expected rotated tokens persisted, got %q/%q", access, refresh)
	}
}

func TestAnonymousUnauthorizedNeverRefreshes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "" {
			t.Errorf("anonymous request carried Authorization header")
		}
		writer.WriteHeader(http.StatusUnauthorized)
		_, _ = writer.Write([]byte(`{"error":"Invalid username or password"}`))
	}))
	t.Cleanup(server.Close)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "unexpected"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	request, err := NewRequest(http.MethodPost, "/api/auth/login").AsAnonymous().WithJSON(model.LoginRequest{Username: "alice", Password: "wrong"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	callErr := fixture.pipeline.Call(context.Background(), request, nil)
	if UserMessage(callErr) != "Invalid username or password" {
		t.Fatalf("unexpected error %v", callErr)
	}
	if transportCalls.Load() != 0 {
		t.Fatalf("anonymous 401 must not trigger a refresh")
	}
}

func TestNetworkErrorDoesNotRefresh(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	credentials := newFakeCredentials("stale-access", "refresh-1")
	var transportCalls atomic.Int32
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		transportCalls.Add(1)
		return model.RefreshResponse{AccessToken: "unexpected"}, nil
	})
	fixture := newPipelineFixture(t, baseURL, credentials, transport, time.Second)

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	var networkError *NetworkError
	if !errors.As(err, &networkError) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if transportCalls.Load() != 0 {
		t.Fatalf("network errors must not trigger a refresh")
	}
	if access, _ := credentials.tokens(); access != "stale-access" {
		t.Fatalf("network errors must not touch credentials")
	}
}

func TestPersistFailureAfterRefreshIsTerminal(t *testing.T) {
	server := tokenGuardedServer(t, "fresh-access", nil)
	credentials := newFakeCredentials("stale-access", "refresh-1")
	credentials.persistErr = errors.New("disk full")
	transport := RefreshTransportFunc(func(context.Context, string) (model.RefreshResponse, error) {
		return model.RefreshResponse{AccessToken: "fresh-access"}, nil
	})
	fixture := newPipelineFixture(t, server.URL, credentials, transport, time.Second)

	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/inventory", nil, nil, nil)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failure when the new token cannot be stored, got %v", err)
	}
	if credentials.cleared() != 1 {
		t.Fatalf("expected credentials cleared after persist failure")
	}
}

func TestCallDecodeFailureIsMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`not-json`))
	}))
	t.Cleanup(server.Close)
	fixture := newPipelineFixture(t, server.URL, newFakeCredentials("access", "refresh"), nil, time.Second)

	var payload map[string]any
	err := fixture.pipeline.JSON(context.Background(), http.MethodGet, "/api/stats", nil, nil, &payload)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNewRequiresConfigAndCredentials(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, errMissingConfig) {
		t.Fatalf("expected missing config error, got %v", err)
	}
	config, err := NewConfig(Settings{})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := New(Options{Config: config}); !errors.Is(err, errMissingCredentials) {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}
