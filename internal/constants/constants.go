package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration and token files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default per-attempt timeout for HTTP requests.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultRefreshTimeout bounds a single credential refresh callback.
	DefaultRefreshTimeout = 30 * time.Second

	// ShortHTTPTimeout bounds connecting to a token store backend.
	ShortHTTPTimeout = 5 * time.Second
)

// Retry limits.
const (
	// DefaultRetryLimit is the default number of re-sends after the first attempt.
	DefaultRetryLimit = 3

	// DefaultRetryBaseDelay is the delay before the first retry.
	DefaultRetryBaseDelay = 300 * time.Millisecond

	// DefaultMaxRetryAfter caps every retry delay, including Retry-After values.
	DefaultMaxRetryAfter = 60 * time.Second

	// ExponentialBackoffBase is the backoff multiplier per attempt.
	ExponentialBackoffBase = 2
)

// DefaultRetryStatusCodes returns the status codes retried by default.
func DefaultRetryStatusCodes() []int {
	return []int{408, 413, 429, 500, 502, 503, 504}
}

// Headers.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"
	HeaderRetryAfter    = "Retry-After"
	HeaderRequestID     = "X-Request-ID"

	ContentTypeJSON  = "application/json"
	BearerPrefix     = "Bearer "
	DefaultUserAgent = "apiclient-go/1.0"
)

// Circuit breaker defaults.
const (
	CircuitBreakerThreshold        = 5
	CircuitBreakerTimeout          = 30 * time.Second
	CircuitBreakerSuccessThreshold = 2
)

// State and status constants.
const (
	StatusClosed   = "closed"
	StatusOpen     = "open"
	StatusHalfOpen = "half-open"
)

// Messages used when a failure carries none of its own.
const (
	MessageUnknownError   = "Unknown error"
	MessageUnknownFailure = "An unknown error occurred"
	MessageTimeout        = "Request timed out"
	MessageNetwork        = "Network request failed"
	MessageCanceled       = "Request was canceled"
)

// Format constants.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatTable = "table"
)

// Token store defaults.
const (
	// TokenExpirationBuffer treats tokens expiring this soon as expired.
	TokenExpirationBuffer = 30 * time.Second

	// DefaultNATSBucket is the JetStream key/value bucket holding token pairs.
	DefaultNATSBucket = "apiclient_tokens"

	// DefaultRedisKeyPrefix prefixes token keys in Redis.
	DefaultRedisKeyPrefix = "apiclient:tokens:"

	// DefaultTokenKey names the stored pair when a single client is configured.
	DefaultTokenKey = "default"

	MaskedSecret = "***"
	NotAvailable = "N/A"
)
