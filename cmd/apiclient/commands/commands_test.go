package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// setupConfig points viper at a fresh config file and file token store.
func setupConfig(t *testing.T, values map[string]interface{}) string {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	viper.SetConfigFile(filepath.Join(dir, "config.yml"))
	viper.Set("token_store", string(tokenstore.TypeFile))
	viper.Set("token_path", filepath.Join(dir, "tokens.yml"))
	viper.Set("output", constants.FormatJSON)

	for key, value := range values {
		viper.Set(key, value)
	}

	return dir
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestNewRequestCommand(t *testing.T) {
	cmd := NewRequestCommand()
	assert.Equal(t, "request METHOD PATH", cmd.Use)
	assert.Equal(t, []string{"req"}, cmd.Aliases)
	assert.NotNil(t, cmd.RunE)

	flags := []string{"data", "header", "query", "allow-retry", "timeout", "repeat", "parallel", "request-id"}
	for _, flagName := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flagName), "Flag %s should exist", flagName)
	}
}

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"X-Trace=abc", "page = 2", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Trace": "abc", "page": "2", "empty": ""}, pairs)

	none, err := parsePairs(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parsePairs([]string{"missing-separator"})
	require.ErrorIs(t, err, constants.ErrInvalidHeaderFormat)

	_, err = parsePairs([]string{"=value"})
	require.ErrorIs(t, err, constants.ErrInvalidHeaderFormat)
}

func TestReadBody(t *testing.T) {
	body, err := readBody(nil, "")
	require.NoError(t, err)
	assert.Nil(t, body)

	body, err = readBody(nil, `{"a":1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(body))

	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"from":"file"}`), constants.ConfigFilePerm))

	body, err = readBody(nil, "@"+path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"file"}`, string(body))

	body, err = readBody(strings.NewReader("piped"), "@-")
	require.NoError(t, err)
	assert.Equal(t, "piped", string(body))

	_, err = readBody(nil, "@"+filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestRequestCommand_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		assert.Equal(t, "key-123", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "demo", payload["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"123"}`))
	}))
	defer server.Close()

	setupConfig(t, map[string]interface{}{"base_url": server.URL, "api_key": "key-123"})

	out, err := execute(t, NewRequestCommand(),
		"post", "/v1/items",
		"--data", `{"name":"demo"}`,
		"--header", "X-Trace=abc",
		"--query", "page=2",
	)
	require.NoError(t, err)

	var view responseView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, http.StatusCreated, view.Status)
	assert.Equal(t, 1, view.Attempts)
	assert.Equal(t, map[string]interface{}{"id": "123"}, view.Body)
}

func TestRequestCommand_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such item"}`))
	}))
	defer server.Close()

	setupConfig(t, map[string]interface{}{"base_url": server.URL})

	out, err := execute(t, NewRequestCommand(), "GET", "/v1/items/9")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.Contains(t, out, `"status": 404`)
}

func TestRequestCommand_Repeat(t *testing.T) {
	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	setupConfig(t, map[string]interface{}{"base_url": server.URL})

	out, err := execute(t, NewRequestCommand(), "GET", "/v1/health", "--repeat", "5", "--parallel", "2")
	require.NoError(t, err)

	var results []responseView
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 5)

	for _, result := range results {
		assert.Equal(t, http.StatusOK, result.Status)
		assert.Empty(t, result.Error)
	}

	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))

	_, err = execute(t, NewRequestCommand(), "GET", "/v1/health", "--repeat", "0")
	require.ErrorIs(t, err, constants.ErrInvalidRepeat)
}

func TestRequestCommand_RepeatReportsFailures(t *testing.T) {
	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1)%2 == 0 {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	setupConfig(t, map[string]interface{}{"base_url": server.URL})

	_, err := execute(t, NewRequestCommand(), "GET", "/v1/health", "--repeat", "4", "--parallel", "1")
	require.ErrorIs(t, err, constants.ErrRequestsFailed)
	assert.Contains(t, err.Error(), "2 of 4")
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestRequestCommand_RefreshesExpiredToken(t *testing.T) {
	var tokenHits, apiHits int32

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenHits, 1)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiHits, 1)

		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer apiServer.Close()

	dir := setupConfig(t, map[string]interface{}{
		"base_url":  apiServer.URL,
		"token_url": tokenServer.URL,
		"client_id": "cli",
	})

	store, err := tokenstore.NewFile(filepath.Join(dir, "tokens.yml"))
	require.NoError(t, err)
	require.NoError(t, store.SetTokens(context.Background(), &api.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}))

	out, err := execute(t, NewRequestCommand(), "GET", "/v1/me")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": 204`)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenHits))
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiHits))

	pair, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "access-2", pair.AccessToken)
	assert.Equal(t, "refresh-2", pair.RefreshToken)
	assert.False(t, pair.ExpiresAt.IsZero())
}

func TestConfigCommands(t *testing.T) {
	dir := setupConfig(t, nil)

	_, err := execute(t, NewConfigCommand(), "set", "base_url", "https://api.example.com")
	require.NoError(t, err)

	_, err = execute(t, NewConfigCommand(), "set", "api_key", "secret-key")
	require.NoError(t, err)

	_, err = execute(t, NewConfigCommand(), "set", "retry_limit", "5")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)

	var saved Config
	require.NoError(t, yaml.Unmarshal(data, &saved))
	assert.Equal(t, "https://api.example.com", saved.BaseURL)
	assert.Equal(t, "secret-key", saved.APIKey)
	require.NotNil(t, saved.RetryLimit)
	assert.Equal(t, 5, *saved.RetryLimit)

	info, err := os.Stat(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(constants.ConfigFilePerm), info.Mode().Perm())

	out, err := execute(t, NewConfigCommand(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, constants.MaskedSecret)
	assert.NotContains(t, out, "secret-key")

	_, err = execute(t, NewConfigCommand(), "unset", "api_key")
	require.NoError(t, err)

	data, err = os.ReadFile(filepath.Join(dir, "config.yml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-key")
}

func TestConfigSet_Validation(t *testing.T) {
	setupConfig(t, nil)

	tests := []struct {
		key   string
		value string
		err   error
	}{
		{"unknown", "x", constants.ErrUnknownConfigKey},
		{"output", "xml", constants.ErrInvalidOutputFormat},
		{"timeout", "soon", constants.ErrInvalidTimeout},
		{"retry_limit", "-1", constants.ErrInvalidRetryLimit},
		{"token_store", "postgres", constants.ErrUnsupportedTokenStore},
		{"grant_type", "password", constants.ErrUnsupportedGrantType},
	}

	for _, tt := range tests {
		_, err := execute(t, NewConfigCommand(), "set", tt.key, tt.value)
		require.ErrorIs(t, err, tt.err, "key %s", tt.key)
	}
}

func TestTokenCommands(t *testing.T) {
	setupConfig(t, nil)

	_, err := execute(t, NewTokenCommand(), "set", "--access", "access-token-value", "--refresh", "refresh", "--expires-in", "1h")
	require.NoError(t, err)

	out, err := execute(t, NewTokenCommand(), "show")
	require.NoError(t, err)

	var status tokenStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Authenticated)
	assert.True(t, status.HasRefreshToken)
	assert.True(t, status.Valid)
	assert.Equal(t, "access-t"+constants.MaskedSecret, status.AccessToken)
	assert.Equal(t, string(tokenstore.TypeFile), status.Store)

	_, err = execute(t, NewTokenCommand(), "clear")
	require.NoError(t, err)

	out, err = execute(t, NewTokenCommand(), "show")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.False(t, status.Authenticated)

	_, err = execute(t, NewTokenCommand(), "refresh")
	require.ErrorIs(t, err, constants.ErrNoTokenURL)
}

func TestBuildTokenStatus(t *testing.T) {
	now := time.Now()

	empty := buildTokenStatus("memory", nil, now)
	assert.False(t, empty.Authenticated)
	assert.Equal(t, "memory", empty.Store)

	expired := buildTokenStatus("file", &api.TokenPair{AccessToken: "short", ExpiresAt: now.Add(-time.Minute)}, now)
	assert.True(t, expired.Authenticated)
	assert.False(t, expired.Valid)
	assert.Equal(t, constants.MaskedSecret, expired.AccessToken)
	assert.Equal(t, "-1m0s", expired.TimeUntilExpiry)
}

func TestVersionCommand(t *testing.T) {
	setupConfig(t, nil)

	out, err := execute(t, NewVersionCommand("1.2.3", "abc123", "2026-01-01"))
	require.NoError(t, err)

	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123", info.Commit)

	viper.Set("output", constants.FormatTable)

	out, err = execute(t, NewVersionCommand("1.2.3", "abc123", "2026-01-01"))
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
}
