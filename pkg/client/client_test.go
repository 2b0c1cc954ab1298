package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/client"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config *api.Config
		err    error
	}{
		{"nil config", nil, client.ErrConfigRequired},
		{"missing base url", &api.Config{}, client.ErrBaseURLRequired},
		{"relative base url", &api.Config{BaseURL: "/v1"}, client.ErrInvalidBaseURL},
		{"unsupported scheme", &api.Config{BaseURL: "ftp://example.com"}, client.ErrInvalidBaseURL},
		{"negative retry limit", &api.Config{BaseURL: "https://api.example.com", Retry: &api.RetryConfig{Limit: -1}}, client.ErrInvalidRetryLimit},
		{"negative timeout", &api.Config{BaseURL: "https://api.example.com", Timeout: -time.Second}, client.ErrInvalidTimeout},
		{"negative refresh timeout", &api.Config{BaseURL: "https://api.example.com", RefreshTimeout: -time.Second}, client.ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cli, err := client.New(tt.config)
			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, cli)
		})
	}

	cli, err := client.New(&api.Config{BaseURL: "https://api.example.com/"})
	require.NoError(t, err)
	assert.NotNil(t, cli)
}

func tokenServer(t *testing.T, hits *int32, response map[string]interface{}) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)

		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		err := r.ParseForm()
		assert.NoError(t, err)

		switch r.Form.Get("grant_type") {
		case "refresh_token":
			assert.Equal(t, "old-refresh-token", r.Form.Get("refresh_token"))
		case "client_credentials":
			username, password, ok := r.BasicAuth()
			if ok {
				assert.Equal(t, "client-id", username)
				assert.Equal(t, "client-secret", password)
			} else {
				assert.Equal(t, "client-id", r.Form.Get("client_id"))
			}
		default:
			t.Errorf("unexpected grant type %q", r.Form.Get("grant_type"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestOAuth2Refresher(t *testing.T) {
	t.Parallel()

	t.Run("rotates tokens", func(t *testing.T) {
		t.Parallel()

		var hits int32

		server := tokenServer(t, &hits, map[string]interface{}{
			"access_token":  "new-access-token",
			"refresh_token": "new-refresh-token",
			"token_type":    "bearer",
			"expires_in":    3600,
		})

		store := tokenstore.NewMemory()
		require.NoError(t, store.SetTokens(context.Background(), &api.TokenPair{AccessToken: "old", RefreshToken: "old-refresh-token"}))

		refresh := client.OAuth2Refresher(&oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/oauth/token"},
		}, store)

		pair, err := refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "new-access-token", pair.AccessToken)
		assert.Equal(t, "new-refresh-token", pair.RefreshToken)
		assert.WithinDuration(t, time.Now().Add(time.Hour), pair.ExpiresAt, time.Minute)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		t.Parallel()

		var hits int32

		server := tokenServer(t, &hits, map[string]interface{}{
			"access_token": "new-access-token",
			"token_type":   "bearer",
		})

		store := tokenstore.NewMemory()
		require.NoError(t, store.SetTokens(context.Background(), &api.TokenPair{RefreshToken: "old-refresh-token"}))

		refresh := client.OAuth2Refresher(&oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/oauth/token"},
		}, store)

		pair, err := refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "old-refresh-token", pair.RefreshToken)
	})

	t.Run("no refresh token", func(t *testing.T) {
		t.Parallel()

		refresh := client.OAuth2Refresher(&oauth2.Config{}, tokenstore.NewMemory())

		_, err := refresh(context.Background())
		require.ErrorIs(t, err, client.ErrNoRefreshToken)
	})
}

func TestClientCredentialsRefresher(t *testing.T) {
	t.Parallel()

	var hits int32

	server := tokenServer(t, &hits, map[string]interface{}{
		"access_token": "client-token",
		"token_type":   "bearer",
		"expires_in":   3600,
	})

	refresh := client.ClientCredentialsRefresher(&clientcredentials.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     server.URL + "/oauth/token",
	})

	pair, err := refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client-token", pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestNew_RefreshesOn401(t *testing.T) {
	t.Parallel()

	var tokenHits, apiHits int32

	tokens := tokenServer(t, &tokenHits, map[string]interface{}{
		"access_token":  "fresh-token",
		"refresh_token": "rotated-refresh-token",
		"token_type":    "bearer",
		"expires_in":    3600,
	})

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiHits, 1)

		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token expired"}`))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"123"}`))
	}))
	defer apiServer.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(context.Background(), &api.TokenPair{
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh-token",
	}))

	var authErrors int32

	cli, err := client.New(&api.Config{
		BaseURL:      apiServer.URL,
		TokenStorage: store,
		OnTokenRefresh: client.OAuth2Refresher(&oauth2.Config{
			ClientID: "client-id",
			Endpoint: oauth2.Endpoint{TokenURL: tokens.URL + "/oauth/token"},
		}, store),
		OnAuthError: func(context.Context, error) { atomic.AddInt32(&authErrors, 1) },
	})
	require.NoError(t, err)

	resp, err := cli.Get(context.Background(), "/v1/items/123", nil)
	require.NoError(t, err)

	var item struct {
		ID string `json:"id"`
	}

	require.NoError(t, resp.DecodeJSON(&item))
	assert.Equal(t, "123", item.ID)

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenHits))
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiHits))
	assert.Zero(t, atomic.LoadInt32(&authErrors))

	access, err := store.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", access)

	refresh, err := store.GetRefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh-token", refresh)
}

func TestNew_RefreshWithoutStorageUsesMemory(t *testing.T) {
	t.Parallel()

	var refreshes int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer minted" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		assert.Equal(t, "static-key", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cli, err := client.New(&api.Config{
		BaseURL: server.URL,
		APIKey:  "static-key",
		OnTokenRefresh: func(context.Context) (*api.TokenPair, error) {
			atomic.AddInt32(&refreshes, 1)

			return &api.TokenPair{AccessToken: "minted"}, nil
		},
	})
	require.NoError(t, err)

	for range 3 {
		resp, err := cli.Delete(context.Background(), "/v1/items/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes), "later calls reuse the stored token")
}

func TestNew_FailedRefreshSurfacesAuthenticationError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(context.Background(), &api.TokenPair{AccessToken: "stale"}))

	var reported error

	cli, err := client.New(&api.Config{
		BaseURL:        server.URL,
		TokenStorage:   store,
		OnTokenRefresh: client.OAuth2Refresher(&oauth2.Config{}, store),
		OnAuthError:    func(_ context.Context, err error) { reported = err },
	})
	require.NoError(t, err)

	_, err = cli.Get(context.Background(), "/v1/items", nil)
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))
	require.ErrorIs(t, err, client.ErrNoRefreshToken)
	require.ErrorIs(t, reported, client.ErrNoRefreshToken)

	access, err := store.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, access, "a failed refresh clears storage")
}

func TestNew_PartialRetryConfigKeepsDefaultLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		retry *api.RetryConfig
		sends int32
	}{
		{"timing only", &api.RetryConfig{MaxRetryAfter: 5 * time.Millisecond, BaseDelay: time.Millisecond}, 4},
		{"explicit limit", &api.RetryConfig{Limit: 1, BaseDelay: time.Millisecond}, 2},
		{"disabled", &api.RetryConfig{Disabled: true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sends int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&sends, 1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			cli, err := client.New(&api.Config{BaseURL: server.URL, Retry: tt.retry})
			require.NoError(t, err)

			_, err = cli.Get(context.Background(), "/v1/health", nil)
			require.Error(t, err)
			assert.Equal(t, api.KindServer, api.KindOf(err))
			assert.Equal(t, tt.sends, atomic.LoadInt32(&sends))
		})
	}
}
