// Package client builds ready-to-use API clients from an api.Config.
package client

import (
	"fmt"
	"net/url"

	"github.com/fivetwenty-io/apiclient/internal/auth"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	apihttp "github.com/fivetwenty-io/apiclient/internal/http"
	"github.com/fivetwenty-io/apiclient/pkg/api"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// Static errors returned by New.
var (
	ErrConfigRequired    = constants.ErrConfigRequired
	ErrBaseURLRequired   = constants.ErrBaseURLRequired
	ErrInvalidBaseURL    = constants.ErrInvalidBaseURL
	ErrInvalidRetryLimit = constants.ErrInvalidRetryLimit
	ErrInvalidTimeout    = constants.ErrInvalidTimeout
)

// New creates a client from config.
func New(config *api.Config) (api.Client, error) {
	err := validate(config)
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = api.NopLogger{}
	}

	storage := config.TokenStorage
	if storage == nil && config.OnTokenRefresh != nil {
		storage = tokenstore.NewMemory()
	}

	opts := []apihttp.Option{
		apihttp.WithLogger(logger),
		apihttp.WithDebug(config.Debug),
		apihttp.WithTimeout(config.Timeout),
		apihttp.WithHTTPClient(config.HTTPClient),
		apihttp.WithHeaders(config.Headers),
		apihttp.WithInterceptors(config.Interceptors),
		apihttp.WithMetrics(config.Metrics),
		apihttp.WithRefreshSkew(config.RefreshSkew),
	}

	if config.Retry != nil {
		opts = append(opts, apihttp.WithRetryConfig(config.Retry))
	}

	if config.UserAgent != "" {
		opts = append(opts, apihttp.WithUserAgent(config.UserAgent))
	}

	if config.OnTokenRefresh != nil {
		opts = append(opts, apihttp.WithRefreshCoordinator(auth.NewRefreshCoordinator(auth.CoordinatorConfig{
			Refresh:     config.OnTokenRefresh,
			Storage:     storage,
			OnAuthError: config.OnAuthError,
			Timeout:     config.RefreshTimeout,
			Logger:      logger,
			Metrics:     config.Metrics,
		})))
	}

	return apihttp.NewClient(config.BaseURL, auth.NewInjector(storage, config.APIKey), opts...), nil
}

func validate(config *api.Config) error {
	if config == nil {
		return ErrConfigRequired
	}

	if config.BaseURL == "" {
		return ErrBaseURLRequired
	}

	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, config.BaseURL)
	}

	if config.Retry != nil && config.Retry.Limit < 0 {
		return ErrInvalidRetryLimit
	}

	if config.Timeout < 0 || config.RefreshTimeout < 0 || config.RefreshSkew < 0 {
		return ErrInvalidTimeout
	}

	return nil
}
