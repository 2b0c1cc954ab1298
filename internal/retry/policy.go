// Package retry decides whether a failed attempt is re-sent and how long to
// wait before doing so.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// Policy is an immutable retry policy.
type Policy struct {
	limit              int
	statusCodes        map[int]struct{}
	maxRetryAfter      time.Duration
	baseDelay          time.Duration
	retryNonIdempotent bool
}

// NewPolicy normalizes cfg into a Policy. A nil cfg yields the defaults:
// 3 retries of 408, 413, 429, 500, 502, 503 and 504, 300ms doubling backoff,
// every delay capped at 60s. Zero fields of cfg take the same defaults.
func NewPolicy(cfg *api.RetryConfig) *Policy {
	if cfg == nil {
		cfg = &api.RetryConfig{}
	}

	codes := cfg.StatusCodes
	if len(codes) == 0 {
		codes = constants.DefaultRetryStatusCodes()
	}

	policy := &Policy{
		limit:              cfg.Limit,
		statusCodes:        make(map[int]struct{}, len(codes)),
		maxRetryAfter:      cfg.MaxRetryAfter,
		baseDelay:          cfg.BaseDelay,
		retryNonIdempotent: cfg.RetryNonIdempotent,
	}

	for _, code := range codes {
		policy.statusCodes[code] = struct{}{}
	}

	switch {
	case cfg.Disabled:
		policy.limit = 0
	case policy.limit <= 0:
		policy.limit = constants.DefaultRetryLimit
	}

	if policy.maxRetryAfter <= 0 {
		policy.maxRetryAfter = constants.DefaultMaxRetryAfter
	}

	if policy.baseDelay <= 0 {
		policy.baseDelay = constants.DefaultRetryBaseDelay
	}

	return policy
}

// Limit returns the maximum number of re-sends.
func (p *Policy) Limit() int {
	return p.limit
}

// MaxRetryAfter returns the cap applied to every delay.
func (p *Policy) MaxRetryAfter() time.Duration {
	return p.maxRetryAfter
}

// Retryable reports whether the failure itself is transient, ignoring the
// attempt budget and the request method. HTTP failures are retryable when
// their status is allow-listed; failures without a status are retryable only
// when they are network errors.
func (p *Policy) Retryable(cause *api.Error) bool {
	if cause == nil {
		return false
	}

	if cause.StatusCode > 0 {
		_, ok := p.statusCodes[cause.StatusCode]

		return ok
	}

	return cause.Kind == api.KindNetwork
}

// ShouldRetry decides whether the attempt that failed with cause is re-sent.
// attempt is the zero-based number of the attempt that failed. It returns the
// delay to wait and true, or zero and false.
func (p *Policy) ShouldRetry(cause *api.Error, attempt int, idempotent bool) (time.Duration, bool) {
	if attempt >= p.limit {
		return 0, false
	}

	if !idempotent && !p.retryNonIdempotent {
		return 0, false
	}

	if !p.Retryable(cause) {
		return 0, false
	}

	return p.Delay(attempt+1, cause.RetryAfter), true
}

// Delay returns the wait before the given re-send (1-based). A server-sent
// retryAfter in seconds takes precedence over the exponential backoff; both
// are capped by MaxRetryAfter.
func (p *Policy) Delay(retry int, retryAfter *int) time.Duration {
	if retryAfter != nil {
		return min(time.Duration(*retryAfter)*time.Second, p.maxRetryAfter)
	}

	exponent := float64(max(retry-1, 0))
	delay := float64(p.baseDelay) * math.Pow(constants.ExponentialBackoffBase, exponent)

	if delay >= float64(p.maxRetryAfter) {
		return p.maxRetryAfter
	}

	return time.Duration(delay)
}

// Context is the call-scoped retry state of one logical call. It is owned by
// a single call and needs no synchronization.
type Context struct {
	Policy *Policy
	// Attempt is the zero-based number of the attempt in flight.
	Attempt int
	// Waited is the total delay spent between attempts so far.
	Waited time.Duration
}

// NewContext starts retry state for a new logical call.
func NewContext(policy *Policy) *Context {
	return &Context{Policy: policy}
}

// Next consults the policy for the attempt that just failed and advances the
// attempt counter when a retry is granted.
func (c *Context) Next(cause *api.Error, idempotent bool) (time.Duration, bool) {
	delay, ok := c.Policy.ShouldRetry(cause, c.Attempt, idempotent)
	if !ok {
		return 0, false
	}

	c.Attempt++
	c.Waited += delay

	return delay, true
}

type contextKey struct{}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the retry state attached to ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(contextKey{}).(*Context)

	return rc, ok
}
