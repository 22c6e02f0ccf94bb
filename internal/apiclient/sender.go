package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerUserAgent     = "User-Agent"
	headerRequestID     = "X-Request-ID"
	mimeJSON            = "application/json"
	maxResponseBytes    = 10 << 20
)

// HTTPSender is the terminal handler: it resolves the URL against the current
// base URL, performs the call, and reads the full body.
type HTTPSender struct {
	config *Config
	client *http.Client
}

// NewHTTPSender builds a sender. A nil client gets the configured request timeout.
func NewHTTPSender(config *Config, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout()}
	}
	return &HTTPSender{config: config, client: client}
}

// Send performs request. Any status code is returned as a Response; only
// transport failures produce an error.
func (sender *HTTPSender) Send(ctx context.Context, request Request) (*Response, error) {
	target := sender.config.ResolveURL(request.Path, request.Query)
	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, target, body)
	if err != nil {
		return nil, &NetworkError{Method: request.Method, URL: target, Cause: err}
	}
	for key, values := range request.Header {
		for _, value := range values {
			httpRequest.Header.Add(key, value)
		}
	}
	httpRequest.Header.Set(headerAccept, mimeJSON)
	httpRequest.Header.Set(headerUserAgent, sender.config.UserAgent())
	if body != nil && httpRequest.Header.Get(headerContentType) == "" {
		httpRequest.Header.Set(headerContentType, mimeJSON)
	}
	if request.BearerToken != "" {
		httpRequest.Header.Set(headerAuthorization, "Bearer "+request.BearerToken)
	}

	httpResponse, err := sender.client.Do(httpRequest)
	if err != nil {
		return nil, &NetworkError{Method: request.Method, URL: target, Cause: err}
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Method: request.Method, URL: target, Cause: fmt.Errorf("read body: %w", err)}
	}
	return &Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       payload,
		Request:    request,
	}, nil
}
