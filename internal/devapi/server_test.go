package devapi_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/tyemirov/stockpilot/internal/apiclient"
	"github.com/tyemirov/stockpilot/internal/credentials"
	"github.com/tyemirov/stockpilot/internal/devapi"
	"github.com/tyemirov/stockpilot/internal/inventory"
	"github.com/tyemirov/stockpilot/internal/kvstore"
	"github.com/tyemirov/stockpilot/internal/metrics"
	"github.com/tyemirov/stockpilot/internal/model"
	"github.com/tyemirov/stockpilot/internal/session"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
)

type endToEnd struct {
	clock         *devapi.ManualClock
	server        *devapi.Server
	serverMetrics *metrics.Counter
	clientMetrics *metrics.Counter
	pipeline      *apiclient.Pipeline
	credentials   *credentials.Store
	session       *session.AuthSession
	inventory     *inventory.Client
}

func newEndToEnd(t *testing.T, rotate bool) endToEnd {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	clock := devapi.NewManualClock(time.Now().UTC())
	serverMetrics := metrics.NewCounter()
	server, err := devapi.NewServer(devapi.Options{
		Config: devapi.Config{
			SigningKey:          []byte("e2e-signing-key"),
			AccessTTL:           accessTTL,
			RefreshTTL:          refreshTTL,
			RotateRefreshTokens: rotate,
			BcryptCost:          bcrypt.MinCost,
		},
		Clock:   clock,
		Logger:  logger,
		Metrics: serverMetrics,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	config, err := apiclient.NewConfig(apiclient.Settings{BaseURL: httpServer.URL, RequestTimeout: 5 * time.Second, RefreshTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	store, err := credentials.NewStore(kvstore.NewMemoryStore(), logger)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	clientMetrics := metrics.NewCounter()
	pipeline, err := apiclient.New(apiclient.Options{
		Config:      config,
		Credentials: store,
		Logger:      logger,
		Metrics:     clientMetrics,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return endToEnd{
		clock:         clock,
		server:        server,
		serverMetrics: serverMetrics,
		clientMetrics: clientMetrics,
		pipeline:      pipeline,
		credentials:   store,
		session:       session.New(pipeline, store, logger),
		inventory:     inventory.NewClient(pipeline, logger),
	}
}

func (fixture endToEnd) register(t *testing.T) *model.User {
	t.Helper()
	user, err := fixture.session.Register(context.Background(), model.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestInventoryRoundTripAgainstDevServer(t *testing.T) {
	ctx := context.Background()
	fixture := newEndToEnd(t, false)
	user := fixture.register(t)
	if user.ID == 0 || !fixture.session.Authenticated() {
		t.Fatalf("expected authenticated session, got %+v", user)
	}

	created, err := fixture.inventory.CreateItem(ctx, model.InventoryItem{Title: "Vintage Jacket", Price: 40, Quantity: 2, Merchant: "Depop", InStock: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fetched, err := fixture.inventory.GetItem(ctx, created.ID)
	if err != nil || fetched.Title != "Vintage Jacket" || fetched.UserID != user.ID {
		t.Fatalf("unexpected item %+v err=%v", fetched, err)
	}
	title := "Denim Jacket"
	updated, err := fixture.inventory.UpdateItem(ctx, created.ID, model.ItemUpdate{Title: &title})
	if err != nil || updated.Title != title || updated.Price != 40 {
		t.Fatalf("unexpected update %+v err=%v", updated, err)
	}
	inStock := true
	list, err := fixture.inventory.ListItems(ctx, 1, 0, model.InventoryFilters{InStock: &inStock})
	if err != nil || list.Pagination.TotalItems != 1 || list.Pagination.PerPage != model.DefaultPageSize {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}

	scrape, err := fixture.inventory.StartScrape(ctx, model.ScrapeRequest{URL: "https://www.depop.com/alice/", Merchant: "Depop"})
	if err != nil || scrape.Job.Status != "pending" {
		t.Fatalf("unexpected scrape %+v err=%v", scrape, err)
	}
	job, err := fixture.inventory.GetJob(ctx, scrape.Job.ID)
	if err != nil || job.ID != scrape.Job.ID {
		t.Fatalf("unexpected job %+v err=%v", job, err)
	}
	statistics, err := fixture.inventory.Statistics(ctx)
	if err != nil || statistics.Inventory.TotalValue != 80 || statistics.ScrapingJobs.PendingJobs != 1 {
		t.Fatalf("unexpected statistics %+v err=%v", statistics, err)
	}

	if _, err := fixture.inventory.DeleteItem(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = fixture.inventory.GetItem(ctx, created.ID)
	var httpErr *apiclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 || apiclient.UserMessage(err) != "Item not found" {
		t.Fatalf("expected 404 with server message, got %v", err)
	}
}

func TestExpiredAccessTokenRefreshesOnceForConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	fixture := newEndToEnd(t, false)
	fixture.register(t)
	expiredToken, _, _ := fixture.credentials.AccessToken(ctx)

	fixture.clock.Advance(accessTTL + time.Minute)

	const callers = 6
	var waitGroup sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.inventory.Statistics(ctx)
			errs <- err
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}

	if got := fixture.serverMetrics.Count(devapi.MetricRefreshSuccess); got != 1 {
		t.Fatalf("expected exactly one refresh on the server, got %d", got)
	}
	freshToken, _, _ := fixture.credentials.AccessToken(ctx)
	if freshToken == expiredToken || freshToken == "" {
		t.Fatalf("expected a new access token to be stored")
	}
	if !fixture.session.Authenticated() {
		t.Fatalf("session should survive a successful refresh")
	}
}

func TestRotatedRefreshTokenIsPersisted(t *testing.T) {
	ctx := context.Background()
	fixture := newEndToEnd(t, true)
	fixture.register(t)
	originalRefresh, _, _ := fixture.credentials.RefreshToken(ctx)

	fixture.clock.Advance(accessTTL + time.Minute)
	if _, err := fixture.session.RefreshUser(ctx); err != nil {
		t.Fatalf("refresh user: %v", err)
	}

	rotatedRefresh, found, _ := fixture.credentials.RefreshToken(ctx)
	if !found || rotatedRefresh == originalRefresh {
		t.Fatalf("expected rotated refresh token to be stored")
	}
	if _, _, err := fixture.server.RefreshTokens().Validate(ctx, originalRefresh); !errors.Is(err, devapi.ErrRefreshTokenRevoked) {
		t.Fatalf("expected original refresh token to be revoked, got %v", err)
	}
}

func TestExpiredRefreshTokenEndsSession(t *testing.T) {
	ctx := context.Background()
	fixture := newEndToEnd(t, false)
	fixture.register(t)

	var mutex sync.Mutex
	var states []session.State
	fixture.session.Subscribe(func(state session.State) {
		mutex.Lock()
		defer mutex.Unlock()
		states = append(states, state)
	})

	fixture.clock.Advance(refreshTTL + time.Hour)
	_, err := fixture.inventory.ListItems(ctx, 1, 20, model.InventoryFilters{})
	if !errors.Is(err, apiclient.ErrRefreshFailed) {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if fixture.session.Authenticated() || fixture.session.CurrentUser() != nil {
		t.Fatalf("expected session to end")
	}
	if _, found, _ := fixture.credentials.AccessToken(ctx); found {
		t.Fatalf("expected access token to be cleared")
	}
	if _, found, _ := fixture.credentials.User(ctx); found {
		t.Fatalf("expected cached user to be cleared")
	}
	if fixture.serverMetrics.Count(devapi.MetricRefreshFailure) != 1 {
		t.Fatalf("expected one rejected refresh on the server")
	}

	mutex.Lock()
	defer mutex.Unlock()
	if len(states) != 1 || states[0].Reason != session.ReasonExpired || states[0].Authenticated {
		t.Fatalf("unexpected state transitions %+v", states)
	}
}

func TestRestoredSessionRevalidatesAgainstServer(t *testing.T) {
	ctx := context.Background()
	fixture := newEndToEnd(t, false)
	user := fixture.register(t)
	if _, err := fixture.server.Users().UpdateEmail(ctx, user.ID, "alice@new.example.com"); err != nil {
		t.Fatalf("update email: %v", err)
	}

	restarted := session.New(fixture.pipeline, fixture.credentials, zaptest.NewLogger(t))
	cached, revalidation := restarted.RestoreSession(ctx)
	if cached == nil || cached.Email != "alice@example.com" || !restarted.Authenticated() {
		t.Fatalf("expected optimistic restore from cache, got %+v", cached)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	revalidated, err := revalidation.Wait(waitCtx)
	if err != nil || revalidated.Email != "alice@new.example.com" {
		t.Fatalf("unexpected revalidation %+v err=%v", revalidated, err)
	}
	if restarted.CurrentUser().Email != "alice@new.example.com" {
		t.Fatalf("expected session user to be updated")
	}
}

func TestLoginWithWrongPasswordDoesNotRefresh(t *testing.T) {
	fixture := newEndToEnd(t, false)
	fixture.register(t)
	fixture.session.Logout(context.Background())

	_, err := fixture.session.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "wrong-password"})
	if apiclient.UserMessage(err) != "Invalid credentials" {
		t.Fatalf("expected server message, got %v", err)
	}
	if fixture.clientMetrics.Count(apiclient.MetricRefreshStarted) != 0 {
		t.Fatalf("anonymous 401 must not trigger refresh")
	}
	if fixture.serverMetrics.Count(devapi.MetricLoginFailure) != 1 {
		t.Fatalf("expected one failed login on the server")
	}
}
