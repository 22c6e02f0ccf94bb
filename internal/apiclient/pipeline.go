// Package apiclient sends authenticated requests to the inventory backend.
// Requests flow through an explicit middleware chain; a 401 on an
// authenticated request triggers one coordinated token refresh shared by all
// concurrent callers, followed by a single replay.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/metrics"
)

var (
	errMissingConfig      = errors.New("apiclient.config_required")
	errMissingCredentials = errors.New("apiclient.credentials_required")
)

// Options configure a Pipeline.
type Options struct {
	Config      *Config
	Credentials CredentialStore
	// Lifecycle bounds background refresh flights. Defaults to context.Background.
	Lifecycle        context.Context
	HTTPClient       *http.Client
	RefreshTransport RefreshTransport
	Logger           *zap.Logger
	Metrics          metrics.Recorder
}

// Pipeline is the single entry point for API calls.
type Pipeline struct {
	config      *Config
	coordinator *RefreshCoordinator
	handler     Handler
	logger      *zap.Logger

	listenersMutex sync.RWMutex
	listeners      []ExpiryNotifier
}

// New assembles the middleware chain:
// RequestID, Logging, RefreshOnUnauthorized, BearerAuth, then the HTTP sender.
func New(options Options) (*Pipeline, error) {
	if options.Config == nil {
		return nil, errMissingConfig
	}
	if options.Credentials == nil {
		return nil, errMissingCredentials
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := options.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	sender := NewHTTPSender(options.Config, options.HTTPClient)
	transport := options.RefreshTransport
	if transport == nil {
		transport = NewHTTPRefreshTransport(sender)
	}

	pipeline := &Pipeline{
		config: options.Config,
		logger: logger,
	}
	pipeline.coordinator = NewRefreshCoordinator(options.Lifecycle, options.Credentials, transport, options.Config.RefreshTimeout(), logger, recorder)
	pipeline.handler = Chain(sender.Send,
		RequestID(),
		Logging(logger, recorder),
		RefreshOnUnauthorized(pipeline.coordinator, pipeline.notifyExpired, recorder, logger),
		BearerAuth(options.Credentials, logger),
	)
	return pipeline, nil
}

// Config returns the shared configuration.
func (pipeline *Pipeline) Config() *Config {
	return pipeline.config
}

// Coordinator returns the refresh coordinator.
func (pipeline *Pipeline) Coordinator() *RefreshCoordinator {
	return pipeline.coordinator
}

// EndSession aborts any pending refresh and clears stored credentials.
func (pipeline *Pipeline) EndSession(ctx context.Context, cause error) error {
	return pipeline.coordinator.Reset(ctx, cause)
}

// BeginSession stores the token pair of a fresh login. A refresh still running
// for the previous session is aborted with ErrSessionReplaced first.
func (pipeline *Pipeline) BeginSession(ctx context.Context, accessToken string, refreshToken string) error {
	return pipeline.coordinator.Install(ctx, accessToken, refreshToken, ErrSessionReplaced)
}

// OnSessionExpired registers a listener invoked when a refresh fails terminally.
func (pipeline *Pipeline) OnSessionExpired(listener ExpiryNotifier) {
	pipeline.listenersMutex.Lock()
	defer pipeline.listenersMutex.Unlock()
	pipeline.listeners = append(pipeline.listeners, listener)
}

func (pipeline *Pipeline) notifyExpired(ctx context.Context, cause error) {
	pipeline.listenersMutex.RLock()
	listeners := append([]ExpiryNotifier(nil), pipeline.listeners...)
	pipeline.listenersMutex.RUnlock()
	for _, listener := range listeners {
		listener(ctx, cause)
	}
}

// Do sends request through the chain and returns the raw response.
func (pipeline *Pipeline) Do(ctx context.Context, request Request) (*Response, error) {
	return pipeline.handler(ctx, request)
}

// Call sends request, maps non-2xx statuses to *HTTPError, and decodes a
// successful JSON body into out when out is non-nil.
func (pipeline *Pipeline) Call(ctx context.Context, request Request, out any) error {
	response, err := pipeline.Do(ctx, request)
	if err != nil {
		return err
	}
	if !response.IsSuccess() {
		return newHTTPError(response)
	}
	if out == nil || len(response.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, request.Method, request.Path, err)
	}
	return nil
}

// JSON is Call for an authenticated request with an optional JSON body.
func (pipeline *Pipeline) JSON(ctx context.Context, method string, path string, query url.Values, in any, out any) error {
	request := NewRequest(method, path).WithQuery(query)
	if in != nil {
		encoded, err := request.WithJSON(in)
		if err != nil {
			return err
		}
		request = encoded
	}
	return pipeline.Call(ctx, request, out)
}
