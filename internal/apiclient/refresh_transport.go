package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tyemirov/stockpilot/internal/model"
)

// RefreshPath is the backend endpoint exchanging a refresh token for a new access token.
const RefreshPath = "/api/auth/refresh"

// RefreshTransport exchanges a refresh token for new credentials.
type RefreshTransport interface {
	Refresh(ctx context.Context, refreshToken string) (model.RefreshResponse, error)
}

// RefreshTransportFunc adapts a function to RefreshTransport.
type RefreshTransportFunc func(ctx context.Context, refreshToken string) (model.RefreshResponse, error)

// Refresh calls function.
func (function RefreshTransportFunc) Refresh(ctx context.Context, refreshToken string) (model.RefreshResponse, error) {
	return function(ctx, refreshToken)
}

// HTTPRefreshTransport posts the refresh token as a bearer credential to RefreshPath.
// It goes straight to the sender so that a 401 here never re-enters refresh handling.
type HTTPRefreshTransport struct {
	sender *HTTPSender
}

// NewHTTPRefreshTransport builds a transport over sender.
func NewHTTPRefreshTransport(sender *HTTPSender) *HTTPRefreshTransport {
	return &HTTPRefreshTransport{sender: sender}
}

// Refresh performs exactly one network call.
func (transport *HTTPRefreshTransport) Refresh(ctx context.Context, refreshToken string) (model.RefreshResponse, error) {
	request := NewRequest(http.MethodPost, RefreshPath).AsAnonymous().WithBearer(refreshToken)
	request.Body = []byte("{}")
	response, err := transport.sender.Send(ctx, request)
	if err != nil {
		return model.RefreshResponse{}, err
	}
	if !response.IsSuccess() {
		return model.RefreshResponse{}, newHTTPError(response)
	}
	var payload model.RefreshResponse
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return model.RefreshResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return model.RefreshResponse{}, fmt.Errorf("%w: access_token missing", ErrMalformedResponse)
	}
	return payload, nil
}

// newHTTPError extracts the server's error message from a JSON body when present.
func newHTTPError(response *Response) *HTTPError {
	return &HTTPError{
		StatusCode: response.StatusCode,
		Message:    extractErrorMessage(response.Body),
		Body:       response.Body,
	}
}

func extractErrorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
