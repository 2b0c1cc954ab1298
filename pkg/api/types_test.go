package api_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/apiclient/pkg/api"
)

func TestRequest_Idempotent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method     string
		allowRetry bool
		expected   bool
	}{
		{http.MethodGet, false, true},
		{"get", false, true},
		{http.MethodPut, false, true},
		{http.MethodPatch, false, true},
		{http.MethodDelete, false, true},
		{http.MethodHead, false, true},
		{http.MethodPost, false, false},
		{http.MethodPost, true, true},
	}

	for _, tt := range tests {
		req := &api.Request{Method: tt.method, AllowRetry: tt.allowRetry}
		assert.Equal(t, tt.expected, req.Idempotent(), "%s allowRetry=%v", tt.method, tt.allowRetry)
	}
}

func TestRequest_CloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	original := &api.Request{
		Method:   http.MethodGet,
		Path:     "/items",
		Query:    url.Values{"page": []string{"1"}},
		Headers:  map[string]string{"X-Trace": "abc"},
		Metadata: map[string]interface{}{"k": "v"},
	}

	clone := original.Clone()
	clone.Headers["X-Trace"] = "changed"
	clone.Query["page"][0] = "2"
	clone.Metadata["k"] = "other"

	assert.Equal(t, "abc", original.Headers["X-Trace"])
	assert.Equal(t, "1", original.Query.Get("page"))
	assert.Equal(t, "v", original.Metadata["k"])

	withAuth := original.WithHeader("Authorization", "Bearer token")
	assert.Empty(t, original.Header("Authorization"))
	assert.Equal(t, "Bearer token", withAuth.Header("authorization"))

	empty := (&api.Request{}).WithHeader("Accept", "text/plain")
	assert.Equal(t, map[string]string{"Accept": "text/plain"}, empty.Headers)
}

func TestRequest_WithHeaderReplacesCaseInsensitively(t *testing.T) {
	t.Parallel()

	req := &api.Request{Headers: map[string]string{"content-type": "text/plain"}}

	out := req.WithHeader("Content-Type", "application/json")
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, out.Headers)
}

func TestRequest_EncodeBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     any
		expected []byte
	}{
		{"nil", nil, nil},
		{"bytes", []byte("raw"), []byte("raw")},
		{"string", "text", []byte("text")},
		{"raw message", json.RawMessage(`{"a":1}`), []byte(`{"a":1}`)},
		{"struct", struct {
			Name string `json:"name"`
		}{Name: "n"}, []byte(`{"name":"n"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := (&api.Request{Body: tt.body}).EncodeBody()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, data)
		})
	}

	_, err := (&api.Request{Body: math.Inf(1)}).EncodeBody()
	require.Error(t, err)
}

func TestResponse_DecodeJSON(t *testing.T) {
	t.Parallel()

	resp := &api.Response{Body: []byte(`{"id":"123"}`)}

	var out struct {
		ID string `json:"id"`
	}

	require.NoError(t, resp.DecodeJSON(&out))
	assert.Equal(t, "123", out.ID)

	bad := &api.Response{Body: []byte("not json")}
	require.Error(t, bad.DecodeJSON(&out))
}

func TestTokenPair_Valid(t *testing.T) {
	t.Parallel()

	buffer := 30 * time.Second

	tests := []struct {
		name     string
		pair     *api.TokenPair
		expected bool
	}{
		{name: "nil pair", pair: nil, expected: false},
		{name: "empty access token", pair: &api.TokenPair{RefreshToken: "r"}, expected: false},
		{name: "no expiry", pair: &api.TokenPair{AccessToken: "a"}, expected: true},
		{name: "valid token", pair: &api.TokenPair{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}, expected: true},
		{name: "expired token", pair: &api.TokenPair{AccessToken: "a", ExpiresAt: time.Now().Add(-time.Hour)}, expected: false},
		{name: "token expiring within buffer", pair: &api.TokenPair{AccessToken: "a", ExpiresAt: time.Now().Add(20 * time.Second)}, expected: false},
		{name: "token expiring just after buffer", pair: &api.TokenPair{AccessToken: "a", ExpiresAt: time.Now().Add(40 * time.Second)}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.pair.Valid(buffer))
		})
	}
}
