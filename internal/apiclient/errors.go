package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRefreshFailed is terminal: credentials were cleared and the session must re-authenticate.
	ErrRefreshFailed = errors.New("apiclient.refresh_failed")
	// ErrAuthorizationExpired matches any HTTPError carrying status 401.
	ErrAuthorizationExpired = errors.New("apiclient.authorization_expired")
	// ErrNoRefreshToken means a refresh was requested while no refresh token was held.
	ErrNoRefreshToken = errors.New("apiclient.no_refresh_token")
	// ErrRefreshAborted means the in-flight refresh was torn down, typically by logout.
	ErrRefreshAborted = errors.New("apiclient.refresh_aborted")
	// ErrSessionReplaced is the abort cause when a login replaces the session a refresh was started for.
	ErrSessionReplaced = errors.New("apiclient.session_replaced")
	// ErrMalformedResponse means a 2xx response body did not match the contract.
	ErrMalformedResponse = errors.New("apiclient.malformed_response")
	// ErrInvalidBaseURL rejects base URLs that are not absolute http(s) URLs.
	ErrInvalidBaseURL = errors.New("apiclient.invalid_base_url")
)

// NetworkError is a transport-level failure: no HTTP response was received.
type NetworkError struct {
	Method string
	URL    string
	Cause  error
}

func (networkError *NetworkError) Error() string {
	return fmt.Sprintf("apiclient.network: %s %s: %v", networkError.Method, networkError.URL, networkError.Cause)
}

// Unwrap returns the underlying cause.
func (networkError *NetworkError) Unwrap() error {
	return networkError.Cause
}

// HTTPError is a non-2xx response surfaced by Pipeline.Call.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (httpError *HTTPError) Error() string {
	if httpError.Message == "" {
		return fmt.Sprintf("apiclient.http_status: %d %s", httpError.StatusCode, http.StatusText(httpError.StatusCode))
	}
	return fmt.Sprintf("apiclient.http_status: %d: %s", httpError.StatusCode, httpError.Message)
}

// Is reports 401 responses as ErrAuthorizationExpired.
func (httpError *HTTPError) Is(target error) bool {
	return target == ErrAuthorizationExpired && httpError.StatusCode == http.StatusUnauthorized
}

// RefreshError carries the cause of a failed refresh and always matches ErrRefreshFailed.
type RefreshError struct {
	Cause error
}

func (refreshError *RefreshError) Error() string {
	if refreshError.Cause == nil {
		return ErrRefreshFailed.Error()
	}
	return ErrRefreshFailed.Error() + ": " + refreshError.Cause.Error()
}

// Unwrap returns the underlying cause.
func (refreshError *RefreshError) Unwrap() error {
	return refreshError.Cause
}

// Is reports RefreshError as ErrRefreshFailed.
func (refreshError *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

// UserMessage renders err the way the UI shows it. Session expiry wins over the server message of the rejected refresh.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrRefreshFailed) {
		return "Your session has expired. Please log in again."
	}
	var httpError *HTTPError
	if errors.As(err, &httpError) {
		if httpError.Message != "" {
			return httpError.Message
		}
		return "Server error occurred"
	}
	var networkError *NetworkError
	if errors.As(err, &networkError) {
		return "Network error. Please check your connection."
	}
	return err.Error()
}
