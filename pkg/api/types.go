package api

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes a single logical API call.
//
// A Request is treated as immutable once handed to the client. The executor
// derives copies (for example with a fresh Authorization header) through
// Clone and WithHeader, so the caller's header map is never aliased.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is sent as-is when it is []byte or string, omitted when nil, and
	// JSON-encoded otherwise.
	Body any
	// Timeout overrides the client's per-attempt timeout when positive.
	Timeout time.Duration
	// AllowRetry marks a non-idempotent request (POST) as safe to retry.
	AllowRetry bool
	// Metadata carries values between interceptors of one call.
	Metadata map[string]interface{}
}

// Idempotent reports whether the request may be re-sent without risk of
// duplicating side effects.
func (r *Request) Idempotent() bool {
	if r.AllowRetry {
		return true
	}

	switch strings.ToUpper(r.Method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions,
		http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Clone returns a copy of the request that shares no mutable maps with r.
func (r *Request) Clone() *Request {
	clone := *r
	clone.Headers = maps.Clone(r.Headers)
	clone.Metadata = maps.Clone(r.Metadata)

	if r.Query != nil {
		clone.Query = make(url.Values, len(r.Query))
		for key, values := range r.Query {
			clone.Query[key] = append([]string(nil), values...)
		}
	}

	return &clone
}

// WithHeader returns a copy of the request with the header set.
func (r *Request) WithHeader(key, value string) *Request {
	clone := r.Clone()
	if clone.Headers == nil {
		clone.Headers = make(map[string]string, 1)
	}

	for existing := range clone.Headers {
		if existing != key && strings.EqualFold(existing, key) {
			delete(clone.Headers, existing)
		}
	}

	clone.Headers[key] = value

	return clone
}

// Header returns the value of a header using case-insensitive matching.
func (r *Request) Header(key string) string {
	if value, ok := r.Headers[key]; ok {
		return value
	}

	for existing, value := range r.Headers {
		if strings.EqualFold(existing, key) {
			return value
		}
	}

	return ""
}

// EncodeBody returns the wire representation of Body.
func (r *Request) EncodeBody() ([]byte, error) {
	switch body := r.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case string:
		return []byte(body), nil
	case json.RawMessage:
		return body, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}

		return data, nil
	}
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	// Status is the status line reason, for example "404 Not Found".
	Status  string
	Headers http.Header
	Body    []byte
	// Attempts is the number of sends the final response took.
	Attempts int
	Duration time.Duration
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	err := json.Unmarshal(r.Body, v)
	if err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}

	return nil
}

// TokenPair is the credential pair held by a TokenStorage.
type TokenPair struct {
	AccessToken  string    `json:"access_token"         yaml:"access_token"`
	RefreshToken string    `json:"refresh_token"        yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Valid reports whether the pair holds an access token that is not expired
// or about to expire within buffer.
func (p *TokenPair) Valid(buffer time.Duration) bool {
	if p == nil || p.AccessToken == "" {
		return false
	}

	if p.ExpiresAt.IsZero() {
		return true
	}

	return time.Now().Add(buffer).Before(p.ExpiresAt)
}
