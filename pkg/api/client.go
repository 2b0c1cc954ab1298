package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client executes requests against the hosted API.
type Client interface {
	// Do executes a logical call. On failure the returned error is always an
	// *Error; the buffered response is returned alongside it when one was
	// received.
	Do(ctx context.Context, req *Request) (*Response, error)

	Get(ctx context.Context, path string, query url.Values) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Patch(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
}

// TokenStorage holds the current credential pair. Implementations must be
// safe for concurrent use. An empty string means "no token".
type TokenStorage interface {
	GetAccessToken(ctx context.Context) (string, error)
	GetRefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, pair *TokenPair) error
	Clear(ctx context.Context) error
}

// RefreshFunc obtains a fresh credential pair. It is invoked by the client
// at most once per refresh cycle, however many requests failed with 401.
//
// The context passed to it is detached from any single caller and must not
// be used to issue requests through the same client that expect a refresh.
type RefreshFunc func(ctx context.Context) (*TokenPair, error)

// AuthErrorFunc is invoked once per failed refresh cycle.
type AuthErrorFunc func(ctx context.Context, err error)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// RetryConfig controls the retry policy.
type RetryConfig struct {
	// Limit is the number of re-sends after the first attempt. Zero means 3.
	Limit int
	// Disabled turns retries off regardless of Limit.
	Disabled bool
	// StatusCodes lists the HTTP status codes that may be retried.
	// Empty means 408, 413, 429, 500, 502, 503 and 504.
	StatusCodes []int
	// MaxRetryAfter caps every retry delay, including server-sent Retry-After.
	MaxRetryAfter time.Duration
	// BaseDelay is the backoff before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// RetryNonIdempotent allows retrying POST requests that are not
	// individually marked with Request.AllowRetry.
	RetryNonIdempotent bool
}

// Config represents client configuration for building a Client.
//
// # Authentication
//
// APIKey, when set, is sent as X-API-Key on every request. TokenStorage,
// when set, supplies a bearer access token. Both may be combined. When
// OnTokenRefresh is set, a 401 response triggers a single shared refresh and
// the failed requests are replayed once with the new token. If OnTokenRefresh
// is set without TokenStorage, an in-memory store is used.
//
// # Timeouts and retries
//
// Timeout applies to each attempt and to waiting on an in-flight refresh.
// Request.Timeout overrides it per call. Retry tunes the retry policy.
type Config struct {
	// BaseURL is the prefix for all request paths (required).
	BaseURL string

	// Timeout is the per-attempt network timeout. Zero means 10s.
	Timeout time.Duration

	// APIKey is a static credential sent as X-API-Key.
	APIKey string

	// Retry configures the retry policy. Nil uses the defaults.
	Retry *RetryConfig

	TokenStorage   TokenStorage
	OnTokenRefresh RefreshFunc
	OnAuthError    AuthErrorFunc

	// RefreshTimeout bounds a single OnTokenRefresh invocation. Zero means 30s.
	RefreshTimeout time.Duration

	// RefreshSkew enables proactive refresh: when positive and the stored
	// access token is a JWT expiring within RefreshSkew, the client refreshes
	// before sending.
	RefreshSkew time.Duration

	// Headers are default headers merged under every request's own headers.
	Headers map[string]string

	// Interceptors are ordered pipeline stages run on every call.
	Interceptors *InterceptorChain

	// Metrics, when set, records request, retry and refresh metrics.
	Metrics *Metrics

	// HTTPClient overrides the underlying HTTP client. Its Timeout is ignored
	// in favour of Timeout.
	HTTPClient *http.Client

	UserAgent string
	Debug     bool
	Logger    Logger
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a Logger writing to logger, or to slog.Default when nil.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}

	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, attrs(fields)...)
}

func (l *slogLogger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, attrs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn(msg, attrs(fields)...)
}

func (l *slogLogger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, attrs(fields)...)
}

func attrs(fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields))
	for key, value := range fields {
		args = append(args, slog.Any(key, value))
	}

	return args
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, map[string]interface{}) {}
func (NopLogger) Info(string, map[string]interface{})  {}
func (NopLogger) Warn(string, map[string]interface{})  {}
func (NopLogger) Error(string, map[string]interface{}) {}
