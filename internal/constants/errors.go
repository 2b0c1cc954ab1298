package constants

import "errors"

// Configuration errors.
var (
	ErrConfigRequired        = errors.New("config is required")
	ErrBaseURLRequired       = errors.New("base URL is required")
	ErrInvalidBaseURL        = errors.New("base URL must be an absolute http(s) URL")
	ErrInvalidRetryLimit     = errors.New("retry limit must not be negative")
	ErrInvalidTimeout        = errors.New("timeout must not be negative")
	ErrUnsupportedTokenStore = errors.New("unsupported token store type")
	ErrUnknownConfigKey      = errors.New("unknown configuration key")
	ErrInvalidOutputFormat   = errors.New("output format must be table, json or yaml")
	ErrUnsupportedGrantType  = errors.New("grant type must be refresh_token or client_credentials")
	ErrInvalidRepeat         = errors.New("repeat count must be at least 1")
	ErrRequestsFailed        = errors.New("requests failed")
)

// Credential errors.
var (
	ErrNoRefreshToken      = errors.New("no refresh token available")
	ErrEmptyAccessToken    = errors.New("refresh returned an empty access token")
	ErrNoExpirationClaim   = errors.New("no expiration claim found")
	ErrRefreshPanicked     = errors.New("token refresh callback panicked")
	ErrRefreshRecursion    = errors.New("request issued from inside the token refresh callback was rejected")
	ErrNilTokenPair        = errors.New("token pair is nil")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker is open")
	ErrRequestRequired     = errors.New("request is required")
	ErrMethodRequired      = errors.New("request method is required")
	ErrNoTokenURL          = errors.New("token_url is not configured")
	ErrNotATerminal        = errors.New("stdin is not a terminal; pass the value as a flag")
	ErrInvalidHeaderFormat = errors.New("value must be in key=value form")
)

// File system errors.
var (
	ErrDirectoryTraversalDetected = errors.New("directory traversal detected in file path")
	ErrTokenPathRequired          = errors.New("token file path is required")
)
