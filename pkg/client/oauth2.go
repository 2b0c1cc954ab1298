package client

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// ErrNoRefreshToken is returned by OAuth2Refresher when storage holds no
// refresh token.
var ErrNoRefreshToken = constants.ErrNoRefreshToken

// OAuth2Refresher returns a RefreshFunc that exchanges the refresh token held
// in storage for a new pair using the refresh_token grant against
// cfg.Endpoint.TokenURL. When the server does not rotate the refresh token,
// the previous one is kept.
func OAuth2Refresher(cfg *oauth2.Config, storage api.TokenStorage) api.RefreshFunc {
	return func(ctx context.Context) (*api.TokenPair, error) {
		refreshToken, err := storage.GetRefreshToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading refresh token: %w", err)
		}

		if refreshToken == "" {
			return nil, ErrNoRefreshToken
		}

		token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, fmt.Errorf("refreshing token: %w", err)
		}

		return pairFromToken(token, refreshToken), nil
	}
}

// ClientCredentialsRefresher returns a RefreshFunc that obtains a new access
// token with the client_credentials grant.
func ClientCredentialsRefresher(cfg *clientcredentials.Config) api.RefreshFunc {
	return func(ctx context.Context) (*api.TokenPair, error) {
		token, err := cfg.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("requesting client credentials token: %w", err)
		}

		return pairFromToken(token, ""), nil
	}
}

func pairFromToken(token *oauth2.Token, previousRefresh string) *api.TokenPair {
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefresh
	}

	return &api.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    token.Expiry,
	}
}
