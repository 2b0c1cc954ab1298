package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fivetwenty-io/apiclient/internal/constants"
)

// ErrCircuitBreakerOpen is the cause of the error returned while a circuit
// breaker rejects requests.
var ErrCircuitBreakerOpen = constants.ErrCircuitBreakerOpen

// RequestInterceptor is called before each logical send. req is the call's
// private copy and may be modified in place.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor is called after each send that produced a response.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response) error

// RetryInterceptor is called before a failed attempt is retried. attempt is
// the number of the upcoming re-send, starting at 1.
type RetryInterceptor func(ctx context.Context, req *Request, attempt int, cause *Error)

// ErrorInterceptor is called before an error is returned to the caller and
// may return a replacement. Returning nil keeps the original.
type ErrorInterceptor func(ctx context.Context, req *Request, err *Error) *Error

// InterceptorChain manages ordered pipeline stages. It is safe for
// concurrent use.
type InterceptorChain struct {
	mu                   sync.RWMutex
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	retryInterceptors    []RetryInterceptor
	errorInterceptors    []ErrorInterceptor
}

// NewInterceptorChain creates a new interceptor chain.
func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) *InterceptorChain {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestInterceptors = append(c.requestInterceptors, interceptor)

	return c
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) *InterceptorChain {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.responseInterceptors = append(c.responseInterceptors, interceptor)

	return c
}

// AddRetryInterceptor adds a retry interceptor to the chain.
func (c *InterceptorChain) AddRetryInterceptor(interceptor RetryInterceptor) *InterceptorChain {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retryInterceptors = append(c.retryInterceptors, interceptor)

	return c
}

// AddErrorInterceptor adds an error interceptor to the chain.
func (c *InterceptorChain) AddErrorInterceptor(interceptor ErrorInterceptor) *InterceptorChain {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorInterceptors = append(c.errorInterceptors, interceptor)

	return c
}

// ExecuteRequestInterceptors runs all request interceptors in order and stops
// at the first failure.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	if c == nil {
		return nil
	}

	c.mu.RLock()
	interceptors := c.requestInterceptors
	c.mu.RUnlock()

	for _, interceptor := range interceptors {
		err := interceptor(ctx, req)
		if err != nil {
			return fmt.Errorf("request interceptor failed: %w", err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors runs all response interceptors in order.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response) error {
	if c == nil {
		return nil
	}

	c.mu.RLock()
	interceptors := c.responseInterceptors
	c.mu.RUnlock()

	for _, interceptor := range interceptors {
		err := interceptor(ctx, req, resp)
		if err != nil {
			return fmt.Errorf("response interceptor failed: %w", err)
		}
	}

	return nil
}

// ExecuteRetryInterceptors runs all retry interceptors in order.
func (c *InterceptorChain) ExecuteRetryInterceptors(ctx context.Context, req *Request, attempt int, cause *Error) {
	if c == nil {
		return
	}

	c.mu.RLock()
	interceptors := c.retryInterceptors
	c.mu.RUnlock()

	for _, interceptor := range interceptors {
		interceptor(ctx, req, attempt, cause)
	}
}

// ExecuteErrorInterceptors threads err through every error interceptor and
// returns the final error.
func (c *InterceptorChain) ExecuteErrorInterceptors(ctx context.Context, req *Request, err *Error) *Error {
	if c == nil {
		return err
	}

	c.mu.RLock()
	interceptors := c.errorInterceptors
	c.mu.RUnlock()

	for _, interceptor := range interceptors {
		if replaced := interceptor(ctx, req, err); replaced != nil {
			err = replaced
		}
	}

	return err
}

// Common Interceptors

// LoggingInterceptor logs requests.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		logger.Debug("API Request", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs responses.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
			"attempts":    resp.Attempts,
		}

		if resp.StatusCode >= 400 {
			logger.Warn("API Response Error", fields)
		} else {
			logger.Debug("API Response", fields)
		}

		return nil
	}
}

// LoggingRetryInterceptor logs each retry decision.
func LoggingRetryInterceptor(logger Logger) RetryInterceptor {
	return func(ctx context.Context, req *Request, attempt int, cause *Error) {
		logger.Info("Retrying request", map[string]interface{}{
			"method":  req.Method,
			"path":    req.Path,
			"attempt": attempt,
			"kind":    string(cause.Kind),
			"status":  cause.StatusCode,
		})
	}
}

// RateLimitInterceptor implements client-side rate limiting with a token
// bucket refilled at requestsPerSecond. Waiting honours ctx.
func RateLimitInterceptor(requestsPerSecond float64, burst int) RequestInterceptor {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), max(burst, 1))

	return func(ctx context.Context, req *Request) error {
		return limiter.Wait(ctx)
	}
}

// HeaderInterceptor adds custom headers to requests.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = make(map[string]string, len(headers))
		}

		for key, value := range headers {
			req.Headers[key] = value
		}

		return nil
	}
}

// RequestIDInterceptor sets a random X-Request-ID unless the request already
// carries one.
func RequestIDInterceptor() RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		if req.Header(constants.HeaderRequestID) != "" {
			return nil
		}

		if req.Headers == nil {
			req.Headers = make(map[string]string, 1)
		}

		req.Headers[constants.HeaderRequestID] = uuid.NewString()

		return nil
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Threshold        int           // Number of failures before opening
	Timeout          time.Duration // Time before trying again
	SuccessThreshold int           // Number of successes to close
}

// CircuitBreaker tracks circuit state across concurrent calls.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      *CircuitBreakerConfig
	failures    int
	successes   int
	state       string
	lastFailure time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = &CircuitBreakerConfig{
			Threshold:        constants.CircuitBreakerThreshold,
			Timeout:          constants.CircuitBreakerTimeout,
			SuccessThreshold: constants.CircuitBreakerSuccessThreshold,
		}
	}

	return &CircuitBreaker{
		config: config,
		state:  constants.StatusClosed,
	}
}

// State returns "closed", "open" or "half-open".
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// CircuitBreakerRequestInterceptor rejects requests while the circuit is open.
func CircuitBreakerRequestInterceptor(breaker *CircuitBreaker) RequestInterceptor {
	return func(ctx context.Context, req *Request) error {
		breaker.mu.Lock()
		defer breaker.mu.Unlock()

		if breaker.state != constants.StatusOpen {
			return nil
		}

		if time.Since(breaker.lastFailure) > breaker.config.Timeout {
			breaker.state = constants.StatusHalfOpen
			breaker.successes = 0

			return nil
		}

		return NewError(KindSDK, "circuit breaker is open", ErrCircuitBreakerOpen)
	}
}

// CircuitBreakerResponseInterceptor updates circuit state based on responses.
func CircuitBreakerResponseInterceptor(breaker *CircuitBreaker) ResponseInterceptor {
	return func(ctx context.Context, req *Request, resp *Response) error {
		breaker.mu.Lock()
		defer breaker.mu.Unlock()

		if resp.StatusCode >= 500 {
			breaker.failures++
			breaker.lastFailure = time.Now()

			if breaker.failures >= breaker.config.Threshold || breaker.state == constants.StatusHalfOpen {
				breaker.state = constants.StatusOpen
			}

			return nil
		}

		switch breaker.state {
		case constants.StatusHalfOpen:
			breaker.successes++
			if breaker.successes >= breaker.config.SuccessThreshold {
				breaker.state = constants.StatusClosed
				breaker.failures = 0
			}
		case constants.StatusClosed:
			breaker.failures = 0
		}

		return nil
	}
}

// CircuitBreakerErrorInterceptor counts transport failures against the breaker.
func CircuitBreakerErrorInterceptor(breaker *CircuitBreaker) ErrorInterceptor {
	return func(ctx context.Context, req *Request, err *Error) *Error {
		if err.Kind != KindNetwork && err.Kind != KindTimeout {
			return nil
		}

		breaker.mu.Lock()
		defer breaker.mu.Unlock()

		breaker.failures++
		breaker.lastFailure = time.Now()

		if breaker.failures >= breaker.config.Threshold || breaker.state == constants.StatusHalfOpen {
			breaker.state = constants.StatusOpen
		}

		return nil
	}
}
