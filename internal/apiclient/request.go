package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request is an immutable description of one API call. Builder methods return
// modified copies; header and query maps are never shared between copies.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	Header      http.Header
	BearerToken string
	// Attempt is 0 for the original send and incremented by Replay.
	Attempt int
	// Anonymous requests carry no bearer token and never trigger a refresh.
	Anonymous bool
}

// NewRequest starts a request for method and path.
func NewRequest(method string, path string) Request {
	return Request{Method: method, Path: path}
}

// WithJSON returns a copy whose body is the JSON encoding of payload.
func (request Request) WithJSON(payload any) (Request, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("apiclient.encode_body: %w", err)
	}
	copied := request.clone()
	copied.Body = encoded
	return copied, nil
}

// WithQuery returns a copy carrying query.
func (request Request) WithQuery(query url.Values) Request {
	copied := request.clone()
	copied.Query = cloneValues(query)
	return copied
}

// WithHeader returns a copy with header key set to value.
func (request Request) WithHeader(key string, value string) Request {
	copied := request.clone()
	if copied.Header == nil {
		copied.Header = http.Header{}
	}
	copied.Header.Set(key, value)
	return copied
}

// WithBearer returns a copy that will present token as its bearer credential.
func (request Request) WithBearer(token string) Request {
	copied := request.clone()
	copied.BearerToken = token
	return copied
}

// AsAnonymous returns a copy that bypasses bearer attachment and refresh handling.
func (request Request) AsAnonymous() Request {
	copied := request.clone()
	copied.Anonymous = true
	copied.BearerToken = ""
	return copied
}

// Replay returns the copy sent after a successful refresh.
func (request Request) Replay(token string) Request {
	copied := request.WithBearer(token)
	copied.Attempt = request.Attempt + 1
	return copied
}

func (request Request) clone() Request {
	copied := request
	if request.Header != nil {
		copied.Header = request.Header.Clone()
	}
	copied.Query = cloneValues(request.Query)
	if request.Body != nil {
		copied.Body = append([]byte(nil), request.Body...)
	}
	return copied
}

func cloneValues(values url.Values) url.Values {
	if values == nil {
		return nil
	}
	copied := make(url.Values, len(values))
	for key, entries := range values {
		copied[key] = append([]string(nil), entries...)
	}
	return copied
}

// Response is a fully read HTTP response together with the request that produced it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    Request
}

// IsSuccess reports a 2xx status.
func (response *Response) IsSuccess() bool {
	return response.StatusCode >= 200 && response.StatusCode < 300
}
