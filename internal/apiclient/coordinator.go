package apiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/metrics"
	"github.com/tyemirov/stockpilot/internal/model"
)

const credentialCleanupTimeout = 5 * time.Second

// CredentialStore is the token persistence the pipeline depends on.
type CredentialStore interface {
	AccessToken(ctx context.Context) (string, bool, error)
	RefreshToken(ctx context.Context) (string, bool, error)
	SetTokens(ctx context.Context, accessToken string, refreshToken string) error
	ReplaceAccessToken(ctx context.Context, accessToken string) error
	ClearTokens(ctx context.Context) error
	ClearUser(ctx context.Context) error
}

// RefreshCoordinator guarantees that at most one refresh transport call is in
// flight. Callers arriving while a refresh is running join it and observe the
// same outcome.
type RefreshCoordinator struct {
	mutex    sync.Mutex
	inFlight *refreshFlight
	// lastFlight is the most recently started flight. Its transport call may
	// still be running after an abort; the next flight waits for it.
	lastFlight  *refreshFlight
	lifecycle   context.Context
	credentials CredentialStore
	transport   RefreshTransport
	timeout     time.Duration
	logger      *zap.Logger
	recorder    metrics.Recorder
}

type refreshFlight struct {
	done        chan struct{}
	finished    chan struct{}
	previous    *refreshFlight
	cancel      context.CancelFunc
	waiters     int
	settled     bool
	accessToken string
	err         error
}

// NewRefreshCoordinator constructs an idle coordinator. Flights are detached
// from caller contexts but are canceled when lifecycle is done.
func NewRefreshCoordinator(lifecycle context.Context, credentials CredentialStore, transport RefreshTransport, timeout time.Duration, logger *zap.Logger, recorder metrics.Recorder) *RefreshCoordinator {
	if lifecycle == nil {
		lifecycle = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &RefreshCoordinator{
		lifecycle:   lifecycle,
		credentials: credentials,
		transport:   transport,
		timeout:     timeout,
		logger:      logger,
		recorder:    recorder,
	}
}

// RequestRefresh starts a refresh or joins the one in flight and returns the
// fresh access token. Failures match ErrRefreshFailed, except when ctx ends
// first: then only this caller stops waiting and the shared refresh continues.
func (coordinator *RefreshCoordinator) RequestRefresh(ctx context.Context) (string, error) {
	coordinator.mutex.Lock()
	return coordinator.joinOrStartLocked(ctx)
}

// RefreshRejected is RequestRefresh for a request the server rejected while
// carrying rejectedToken. When the stored access token already differs, a
// refresh or login replaced it and that token is returned without a new flight.
// The check runs under the coordinator lock, so it observes a token persisted
// by a flight that is settling.
func (coordinator *RefreshCoordinator) RefreshRejected(ctx context.Context, rejectedToken string) (string, error) {
	coordinator.mutex.Lock()
	if coordinator.inFlight == nil {
		storedToken, found, err := coordinator.credentials.AccessToken(ctx)
		if err == nil && found && storedToken != "" && storedToken != rejectedToken {
			coordinator.mutex.Unlock()
			coordinator.recorder.Increment(MetricRefreshSkippedStale)
			return storedToken, nil
		}
	}
	return coordinator.joinOrStartLocked(ctx)
}

// joinOrStartLocked is called with coordinator.mutex held and releases it.
func (coordinator *RefreshCoordinator) joinOrStartLocked(ctx context.Context) (string, error) {
	flight := coordinator.inFlight
	if flight != nil {
		flight.waiters++
		coordinator.mutex.Unlock()
		coordinator.recorder.Increment(MetricRefreshJoined)
		return coordinator.await(ctx, flight)
	}
	flightContext, cancel := context.WithTimeout(coordinator.lifecycle, coordinator.timeout)
	flight = &refreshFlight{
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		previous: coordinator.lastFlight,
		cancel:   cancel,
		waiters:  1,
	}
	coordinator.inFlight = flight
	coordinator.lastFlight = flight
	coordinator.mutex.Unlock()

	coordinator.recorder.Increment(MetricRefreshStarted)
	coordinator.logger.Debug("token refresh started")
	go coordinator.run(flightContext, flight)
	return coordinator.await(ctx, flight)
}

// InFlight reports whether a refresh is currently running.
func (coordinator *RefreshCoordinator) InFlight() bool {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.inFlight != nil
}

// Abort settles the in-flight refresh with ErrRefreshAborted. Its eventual
// transport result is discarded and never written to the credential store.
func (coordinator *RefreshCoordinator) Abort(cause error) bool {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.abortLocked(cause)
}

// Reset aborts any in-flight refresh and clears tokens and cached user in one
// step, so no refresh outcome can be persisted after it returns. Both clears
// are attempted even if one fails.
func (coordinator *RefreshCoordinator) Reset(ctx context.Context, cause error) error {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.abortLocked(cause)
	return errors.Join(coordinator.credentials.ClearTokens(ctx), coordinator.credentials.ClearUser(ctx))
}

// Install aborts any in-flight refresh with cause and stores a new token pair
// in one step. Used when a login replaces the session, so a refresh started
// with the previous refresh token can neither clear nor overwrite the new pair.
func (coordinator *RefreshCoordinator) Install(ctx context.Context, accessToken string, refreshToken string, cause error) error {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.abortLocked(cause)
	return coordinator.credentials.SetTokens(ctx, accessToken, refreshToken)
}

func (coordinator *RefreshCoordinator) abortLocked(cause error) bool {
	flight := coordinator.inFlight
	if flight == nil {
		return false
	}
	flight.cancel()
	abortErr := ErrRefreshAborted
	if cause != nil {
		abortErr = fmt.Errorf("%w: %w", ErrRefreshAborted, cause)
	}
	coordinator.settleLocked(flight, "", &RefreshError{Cause: abortErr})
	return true
}

func (coordinator *RefreshCoordinator) waiterCount() int {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.inFlight == nil {
		return 0
	}
	return coordinator.inFlight.waiters
}

func (coordinator *RefreshCoordinator) await(ctx context.Context, flight *refreshFlight) (string, error) {
	select {
	case <-flight.done:
		return flight.accessToken, flight.err
	case <-ctx.Done():
		return "", fmt.Errorf("apiclient.refresh.wait: %w", ctx.Err())
	}
}

func (coordinator *RefreshCoordinator) run(ctx context.Context, flight *refreshFlight) {
	defer flight.cancel()
	defer close(flight.finished)

	// An aborted predecessor may still be inside its transport call.
	if previous := flight.previous; previous != nil {
		select {
		case <-previous.finished:
			flight.previous = nil
		case <-ctx.Done():
			coordinator.fail(flight, fmt.Errorf("previous refresh still running: %w", ctx.Err()))
			<-previous.finished
			return
		}
	}

	refreshToken, found, err := coordinator.credentials.RefreshToken(ctx)
	if err != nil {
		coordinator.fail(flight, fmt.Errorf("%w: %w", ErrNoRefreshToken, err))
		return
	}
	if !found || strings.TrimSpace(refreshToken) == "" {
		coordinator.fail(flight, ErrNoRefreshToken)
		return
	}

	coordinator.recorder.Increment(MetricTransportInvocations)
	result, err := coordinator.transport.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("refresh timed out after %s: %w", coordinator.timeout, err)
		}
		coordinator.fail(flight, err)
		return
	}
	if strings.TrimSpace(result.AccessToken) == "" {
		coordinator.fail(flight, fmt.Errorf("%w: access_token missing", ErrMalformedResponse))
		return
	}
	coordinator.succeed(flight, result)
}

func (coordinator *RefreshCoordinator) succeed(flight *refreshFlight, result model.RefreshResponse) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if flight.settled {
		coordinator.logger.Debug("discarding refresh result of aborted flight")
		return
	}
	storageContext, cancel := context.WithTimeout(context.Background(), credentialCleanupTimeout)
	defer cancel()

	var persistErr error
	if strings.TrimSpace(result.RefreshToken) != "" {
		persistErr = coordinator.credentials.SetTokens(storageContext, result.AccessToken, result.RefreshToken)
	} else {
		persistErr = coordinator.credentials.ReplaceAccessToken(storageContext, result.AccessToken)
	}
	if persistErr != nil {
		coordinator.clearLocked(storageContext)
		coordinator.settleLocked(flight, "", &RefreshError{Cause: fmt.Errorf("persist refreshed token: %w", persistErr)})
		return
	}
	coordinator.settleLocked(flight, result.AccessToken, nil)
}

func (coordinator *RefreshCoordinator) fail(flight *refreshFlight, cause error) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if flight.settled {
		return
	}
	storageContext, cancel := context.WithTimeout(context.Background(), credentialCleanupTimeout)
	defer cancel()
	coordinator.clearLocked(storageContext)
	coordinator.settleLocked(flight, "", &RefreshError{Cause: cause})
}

func (coordinator *RefreshCoordinator) clearLocked(ctx context.Context) {
	if err := errors.Join(coordinator.credentials.ClearTokens(ctx), coordinator.credentials.ClearUser(ctx)); err != nil {
		coordinator.logger.Warn("failed to clear credentials after refresh failure",
			zap.String("code", "apiclient.refresh.clear_failed"),
			zap.Error(err))
	}
}

// settleLocked publishes the outcome and returns the coordinator to idle.
// The caller holds coordinator.mutex.
func (coordinator *RefreshCoordinator) settleLocked(flight *refreshFlight, accessToken string, err error) {
	if flight.settled {
		return
	}
	flight.settled = true
	flight.accessToken = accessToken
	flight.err = err
	if coordinator.inFlight == flight {
		coordinator.inFlight = nil
	}
	close(flight.done)

	if err != nil {
		coordinator.recorder.Increment(MetricRefreshFailed)
		coordinator.logger.Info("token refresh failed",
			zap.Int("waiters", flight.waiters),
			zap.Error(err))
		return
	}
	coordinator.recorder.Increment(MetricRefreshSucceeded)
	coordinator.logger.Debug("token refresh succeeded", zap.Int("waiters", flight.waiters))
}
