package apiclient

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is used when no base URL is configured or persisted.
	DefaultBaseURL = "http://localhost:5000"
	// DefaultRequestTimeout bounds every API call.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRefreshTimeout bounds a single refresh transport call.
	DefaultRefreshTimeout = 10 * time.Second
	// DefaultUserAgent identifies the client to the backend.
	DefaultUserAgent = "stockpilot-client"
)

// Settings are the construction-time inputs of Config.
type Settings struct {
	BaseURL        string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
	UserAgent      string
}

// Config is the client configuration shared by one pipeline.
// The base URL is mutable at runtime and is read at send time, so requests
// issued after SetBaseURL (including refresh replays) target the new URL.
type Config struct {
	mutex          sync.RWMutex
	baseURL        string
	requestTimeout time.Duration
	refreshTimeout time.Duration
	userAgent      string
}

// NewConfig validates settings and applies defaults.
func NewConfig(settings Settings) (*Config, error) {
	baseURL := settings.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	requestTimeout := settings.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	refreshTimeout := settings.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = DefaultRefreshTimeout
	}
	userAgent := settings.UserAgent
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &Config{
		baseURL:        normalized,
		requestTimeout: requestTimeout,
		refreshTimeout: refreshTimeout,
		userAgent:      userAgent,
	}, nil
}

// BaseURL returns the current base URL.
func (config *Config) BaseURL() string {
	config.mutex.RLock()
	defer config.mutex.RUnlock()
	return config.baseURL
}

// SetBaseURL replaces the base URL for all subsequently issued requests.
func (config *Config) SetBaseURL(baseURL string) error {
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return err
	}
	config.mutex.Lock()
	defer config.mutex.Unlock()
	config.baseURL = normalized
	return nil
}

// RequestTimeout returns the per-request timeout.
func (config *Config) RequestTimeout() time.Duration {
	return config.requestTimeout
}

// RefreshTimeout returns the refresh transport timeout.
func (config *Config) RefreshTimeout() time.Duration {
	return config.refreshTimeout
}

// UserAgent returns the User-Agent header value.
func (config *Config) UserAgent() string {
	return config.userAgent
}

// ResolveURL joins the current base URL with path and query.
func (config *Config) ResolveURL(path string, query url.Values) string {
	target := config.BaseURL() + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidBaseURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidBaseURL)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("%w: query and fragment are not allowed", ErrInvalidBaseURL)
	}
	return trimmed, nil
}
