// Package auth attaches credentials to outgoing requests and coordinates
// credential refresh across concurrent calls.
package auth

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// Injector attaches the current credential to a request. It reads token
// storage and never writes it.
type Injector struct {
	storage api.TokenStorage
	apiKey  string
}

// NewInjector creates an injector. Either argument may be empty; with
// neither, Inject returns requests unchanged.
func NewInjector(storage api.TokenStorage, apiKey string) *Injector {
	return &Injector{storage: storage, apiKey: apiKey}
}

// Configured reports whether the injector has any credential source.
func (i *Injector) Configured() bool {
	return i != nil && (i.storage != nil || i.apiKey != "")
}

// Inject returns a copy of req carrying "Authorization: Bearer <token>" when
// storage holds an access token and "X-API-Key" when a static key is set. It
// also returns the access token that was attached, or "" when none was.
func (i *Injector) Inject(ctx context.Context, req *api.Request) (*api.Request, string, error) {
	if !i.Configured() {
		return req, "", nil
	}

	out := req
	token := ""

	if i.storage != nil {
		var err error

		token, err = i.storage.GetAccessToken(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("reading access token: %w", err)
		}

		if token != "" {
			out = out.WithHeader(constants.HeaderAuthorization, constants.BearerPrefix+token)
		}
	}

	if i.apiKey != "" {
		out = out.WithHeader(constants.HeaderAPIKey, i.apiKey)
	}

	return out, token, nil
}

// CurrentToken returns the stored access token, or "" without storage.
func (i *Injector) CurrentToken(ctx context.Context) (string, error) {
	if i == nil || i.storage == nil {
		return "", nil
	}

	token, err := i.storage.GetAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}

	return token, nil
}
