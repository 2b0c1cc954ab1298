package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/client"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// openTokenStore returns the configured store, a YAML file under
// ~/.apiclient by default.
func openTokenStore(ctx context.Context, config *Config) (tokenstore.Store, error) {
	storeType := tokenstore.Type(config.TokenStore)
	if storeType == "" {
		storeType = tokenstore.TypeFile
	}

	path := config.TokenPath
	if storeType == tokenstore.TypeFile && path == "" {
		var err error

		path, err = defaultTokenPath()
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ShortHTTPTimeout)
	defer cancel()

	store, err := tokenstore.New(ctx, &tokenstore.Config{
		Type:  storeType,
		Path:  path,
		NATS:  &tokenstore.NATSConfig{URL: config.NATSURL},
		Redis: &tokenstore.RedisConfig{Addr: config.RedisAddr, Password: config.RedisPassword},
	})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	return store, nil
}

// refresher builds the OAuth2 refresh callback, or nil when no token URL is
// configured.
func refresher(config *Config, store api.TokenStorage) api.RefreshFunc {
	if config.TokenURL == "" {
		return nil
	}

	if config.GrantType == grantClientCredentials {
		return client.ClientCredentialsRefresher(&clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		})
	}

	return client.OAuth2Refresher(&oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: config.TokenURL},
	}, store)
}

// newAPIClient builds a client from the CLI configuration.
func newAPIClient(config *Config, store tokenstore.Store, chain *api.InterceptorChain) (api.Client, error) {
	apiConfig := &api.Config{
		BaseURL:      config.BaseURL,
		APIKey:       config.APIKey,
		TokenStorage: store,
		Interceptors: chain,
		Debug:        viper.GetBool("verbose"),
		Logger:       api.NewSlogLogger(slog.Default()),
		OnAuthError: func(_ context.Context, err error) {
			slog.Warn("Credential refresh failed, stored tokens were cleared", "error", err)
		},
	}

	var err error

	apiConfig.Timeout, err = parseDuration(config.Timeout)
	if err != nil {
		return nil, err
	}

	apiConfig.RefreshSkew, err = parseDuration(config.RefreshSkew)
	if err != nil {
		return nil, err
	}

	if config.RetryLimit != nil {
		apiConfig.Retry = &api.RetryConfig{Limit: *config.RetryLimit, Disabled: *config.RetryLimit == 0}
	}

	apiConfig.OnTokenRefresh = refresher(config, store)

	cli, err := client.New(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}

	return cli, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", value, err)
	}

	return d, nil
}
