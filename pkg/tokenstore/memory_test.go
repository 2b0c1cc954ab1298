package tokenstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store tokenstore.Store) {
	t.Helper()

	ctx := context.Background()

	access, err := store.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access, "new store is empty")

	pair, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair)

	require.NoError(t, store.SetTokens(ctx, &api.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}))

	access, err = store.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)

	refresh, err := store.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)

	require.NoError(t, store.SetTokens(ctx, &api.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}))

	pair, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "access-2", pair.AccessToken)
	assert.Equal(t, "refresh-2", pair.RefreshToken)

	require.ErrorIs(t, store.SetTokens(ctx, nil), constants.ErrNilTokenPair)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing an empty store succeeds")

	access, err = store.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)

	refresh, err = store.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, refresh)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	t.Run("shared behaviour", func(t *testing.T) {
		t.Parallel()
		exerciseStore(t, tokenstore.NewMemory())
	})
	t.Run("stored pair is a copy", testMemoryCopies)
	t.Run("concurrent access", testMemoryConcurrentAccess)
}

func testMemoryCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := tokenstore.NewMemory()
	pair := &api.TokenPair{AccessToken: "original"}

	require.NoError(t, store.SetTokens(ctx, pair))

	pair.AccessToken = "mutated"

	access, err := store.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "original", access)
}

func testMemoryConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := tokenstore.NewMemory()
	done := make(chan bool)

	for _, token := range []string{"token-1", "token-2"} {
		go func() {
			for range 100 {
				_ = store.SetTokens(ctx, &api.TokenPair{AccessToken: token})
			}

			done <- true
		}()
	}

	for range 2 {
		go func() {
			for range 100 {
				_, _ = store.GetAccessToken(ctx)
			}

			done <- true
		}()
	}

	for range 4 {
		<-done
	}

	access, err := store.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.True(t, access == "token-1" || access == "token-2")
}
