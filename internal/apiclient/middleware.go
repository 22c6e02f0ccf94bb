package apiclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/metrics"
)

// Handler performs one request and returns its response.
type Handler func(ctx context.Context, request Request) (*Response, error)

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain wraps terminal with middlewares; the first middleware is outermost.
func Chain(terminal Handler, middlewares ...Middleware) Handler {
	handler := terminal
	for index := len(middlewares) - 1; index >= 0; index-- {
		handler = middlewares[index](handler)
	}
	return handler
}

// RequestID tags each request with an X-Request-ID header. Replays reuse the
// identifier of the original request.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request Request) (*Response, error) {
			if request.Header.Get(headerRequestID) == "" {
				request = request.WithHeader(headerRequestID, uuid.NewString())
			}
			return next(ctx, request)
		}
	}
}

// Logging records one structured entry per logical request.
func Logging(logger *zap.Logger, recorder metrics.Recorder) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request Request) (*Response, error) {
			started := time.Now()
			recorder.Increment(MetricRequestSent)
			response, err := next(ctx, request)
			fields := []zap.Field{
				zap.String("method", request.Method),
				zap.String("path", request.Path),
				zap.String("request_id", request.Header.Get(headerRequestID)),
				zap.Duration("elapsed", time.Since(started)),
			}
			if err != nil {
				logger.Warn("api request failed", append(fields, zap.Error(err))...)
				return response, err
			}
			fields = append(fields,
				zap.Int("status", response.StatusCode),
				zap.Int("attempt", response.Request.Attempt))
			logger.Debug("api request", fields...)
			return response, nil
		}
	}
}

// BearerAuth attaches the stored access token to non-anonymous requests that
// do not already carry one. A storage read failure sends the request without
// a token; the backend's 401 then drives the refresh path.
func BearerAuth(credentials CredentialStore, logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request Request) (*Response, error) {
			if request.Anonymous || request.BearerToken != "" {
				return next(ctx, request)
			}
			token, found, err := credentials.AccessToken(ctx)
			if err != nil {
				logger.Warn("access token unavailable",
					zap.String("code", "apiclient.bearer.read_failed"),
					zap.Error(err))
			} else if found {
				request = request.WithBearer(token)
			}
			return next(ctx, request)
		}
	}
}

// ExpiryNotifier is told when a refresh fails and the session is over.
type ExpiryNotifier func(ctx context.Context, cause error)

// RefreshOnUnauthorized replays a request rejected with 401 exactly once.
// The coordinator returns the stored token when it already differs from the
// rejected one, and otherwise refreshes. The replay carries
// Attempt 1 and its own 401 is returned to the caller unchanged.
func RefreshOnUnauthorized(coordinator *RefreshCoordinator, notify ExpiryNotifier, recorder metrics.Recorder, logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, request Request) (*Response, error) {
			response, err := next(ctx, request)
			if err != nil || response.StatusCode != http.StatusUnauthorized {
				return response, err
			}
			if request.Anonymous || request.Attempt > 0 {
				return response, nil
			}

			rejectedToken := response.Request.BearerToken
			freshToken, refreshErr := coordinator.RefreshRejected(ctx, rejectedToken)
			if refreshErr != nil {
				if errors.Is(refreshErr, ErrRefreshFailed) && notify != nil {
					notify(ctx, refreshErr)
				}
				return nil, refreshErr
			}

			logger.Debug("replaying request with refreshed token",
				zap.String("method", request.Method),
				zap.String("path", request.Path))
			recorder.Increment(MetricRequestReplayed)
			return next(ctx, request.Replay(freshToken))
		}
	}
}
