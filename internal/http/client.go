// Package http executes logical API calls: it attaches credentials, sends
// through a retrying transport, classifies failures and replays requests
// rejected with 401 after a shared credential refresh.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/apiclient/internal/auth"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/internal/retry"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// Request and Response are the executor's descriptors.
type (
	Request  = api.Request
	Response = api.Response
)

// Client is the request executor. It is safe for concurrent use; the only
// state shared between calls lives in the token storage and the refresh
// coordinator.
type Client struct {
	baseURL      string
	injector     *auth.Injector
	coordinator  *auth.RefreshCoordinator
	policy       *retry.Policy
	httpClient   *http.Client
	baseHTTP     *http.Client
	timeout      time.Duration
	refreshSkew  time.Duration
	headers      map[string]string
	userAgent    string
	interceptors *api.InterceptorChain
	metrics      *api.Metrics
	logger       api.Logger
	debug        bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger api.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables logging of every send and response.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithRetryConfig sets the retry policy. A nil config keeps the defaults.
func WithRetryConfig(cfg *api.RetryConfig) Option {
	return func(c *Client) {
		c.policy = retry.NewPolicy(cfg)
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHTTPClient sets the underlying HTTP client. Its Timeout is ignored.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.baseHTTP = client
		}
	}
}

// WithRefreshCoordinator enables replaying 401 responses after a refresh.
func WithRefreshCoordinator(coordinator *auth.RefreshCoordinator) Option {
	return func(c *Client) {
		c.coordinator = coordinator
	}
}

// WithRefreshSkew enables refreshing before sending when the stored JWT
// access token expires within skew.
func WithRefreshSkew(skew time.Duration) Option {
	return func(c *Client) {
		c.refreshSkew = skew
	}
}

// WithHeaders sets default headers merged under per-call headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithInterceptors sets the pipeline stages.
func WithInterceptors(chain *api.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// WithMetrics records calls, retries and refreshes.
func WithMetrics(metrics *api.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a new executor for baseURL. injector may be nil for
// unauthenticated clients.
func NewClient(baseURL string, injector *auth.Injector, opts ...Option) *Client {
	client := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		injector:  injector,
		policy:    retry.NewPolicy(nil),
		timeout:   constants.DefaultHTTPTimeout,
		userAgent: constants.DefaultUserAgent,
		logger:    api.NopLogger{},
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.logger == nil {
		client.logger = api.NopLogger{}
	}

	client.httpClient = client.newHTTPClient()

	return client
}

// newHTTPClient wraps the caller's client, or a default one, with the
// per-attempt timeout transport.
func (c *Client) newHTTPClient() *http.Client {
	base := &http.Client{}
	if c.baseHTTP != nil {
		copied := *c.baseHTTP
		base = &copied
	}

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	base.Timeout = 0
	base.Transport = &timeoutTransport{base: transport}

	return base
}

// retryableFor returns the retrying client for one logical call. Its backoff
// follows the call's retry state, which survives the post-refresh replay.
func (c *Client) retryableFor(state *callState) *retryablehttp.Client {
	rc := &retryablehttp.Client{
		HTTPClient:   c.httpClient,
		RetryWaitMin: 0,
		RetryWaitMax: c.policy.MaxRetryAfter(),
		RetryMax:     c.policy.Limit(),
		CheckRetry:   c.checkRetry,
		Backoff: func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
			return state.delay
		},
		PrepareRetry: c.prepareRetry,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	if c.debug {
		rc.Logger = &leveledLogger{logger: c.logger}
		rc.RequestLogHook = c.logRequest
		rc.ResponseLogHook = c.logResponse
	}

	return rc
}

// Do executes a logical call. On failure the error is an *api.Error and the
// buffered response, when one was received, is returned alongside it.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	resp, apiErr := c.execute(ctx, req)

	method := ""
	if req != nil {
		method = strings.ToUpper(req.Method)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if apiErr != nil {
		apiErr = c.interceptors.ExecuteErrorInterceptors(ctx, req, apiErr)
		c.metrics.ObserveCall(method, status, apiErr.Kind, time.Since(start))

		return resp, apiErr
	}

	c.metrics.ObserveCall(method, status, "", time.Since(start))

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

func (c *Client) execute(ctx context.Context, req *Request) (*Response, *api.Error) {
	if req == nil {
		return nil, api.NewError(api.KindSDK, "Invalid request", constants.ErrRequestRequired)
	}

	if req.Method == "" {
		return nil, api.NewError(api.KindSDK, "Invalid request", constants.ErrMethodRequired)
	}

	effective := c.prepare(req)

	err := c.interceptors.ExecuteRequestInterceptors(ctx, effective)
	if err != nil {
		return nil, api.Classify(nil, err)
	}

	timeout := c.timeout
	if effective.Timeout > 0 {
		timeout = effective.Timeout
	}

	state := &callState{
		req:     effective,
		retry:   retry.NewContext(c.policy),
		timeout: timeout,
	}

	if apiErr := c.refreshIfExpiring(ctx, timeout); apiErr != nil {
		return nil, apiErr
	}

	resp, apiErr := c.send(ctx, state, "")
	if apiErr == nil || apiErr.Kind != api.KindAuthentication || c.coordinator == nil || auth.InRefresh(ctx) {
		return resp, apiErr
	}

	pair, refreshErr := c.awaitRefresh(ctx, timeout, state.token)
	if refreshErr != nil {
		return resp, refreshErr
	}

	// One replay with the refreshed credential. A second 401 is final.
	return c.send(ctx, state, pair.AccessToken)
}

// prepare clones req and merges the default headers under its own.
func (c *Client) prepare(req *Request) *Request {
	effective := req.Clone()
	if effective.Headers == nil {
		effective.Headers = make(map[string]string)
	}

	effective.Method = strings.ToUpper(effective.Method)

	defaults := map[string]string{
		constants.HeaderContentType: constants.ContentTypeJSON,
		constants.HeaderAccept:      constants.ContentTypeJSON,
	}
	if c.userAgent != "" {
		defaults[constants.HeaderUserAgent] = c.userAgent
	}

	for key, value := range c.headers {
		defaults[http.CanonicalHeaderKey(key)] = value
	}

	for key, value := range defaults {
		if effective.Header(key) == "" {
			effective.Headers[key] = value
		}
	}

	return effective
}

func (c *Client) awaitRefresh(ctx context.Context, timeout time.Duration, staleToken string) (*api.TokenPair, *api.Error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pair, err := c.coordinator.HandleAuthFailure(waitCtx, staleToken)
	if err != nil {
		return nil, api.Classify(nil, err)
	}

	return pair, nil
}

func (c *Client) refreshIfExpiring(ctx context.Context, timeout time.Duration) *api.Error {
	if c.coordinator == nil || c.refreshSkew <= 0 || auth.InRefresh(ctx) {
		return nil
	}

	token, err := c.injector.CurrentToken(ctx)
	if err != nil || !auth.ExpiresWithin(token, c.refreshSkew, time.Now()) {
		return nil
	}

	c.logger.Debug("Access token expiring, refreshing before send", nil)

	_, apiErr := c.awaitRefresh(ctx, timeout, token)

	return apiErr
}

// send performs one logical send, including transient-failure retries.
// A non-empty token overrides the stored access token.
func (c *Client) send(ctx context.Context, state *callState, token string) (*Response, *api.Error) {
	start := time.Now()
	callCtx := withCallState(ctx, state)

	body, err := state.req.EncodeBody()
	if err != nil {
		return nil, api.NewError(api.KindSDK, "Invalid request body", err)
	}

	injected, used, err := c.injector.Inject(callCtx, state.req)
	if err != nil {
		return nil, api.NewError(api.KindSDK, "Failed to attach credentials", err)
	}

	if token != "" {
		injected = injected.WithHeader(constants.HeaderAuthorization, constants.BearerPrefix+token)
		used = token
	}

	state.token = used

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(callCtx, injected.Method, c.buildURL(injected), rawBody)
	if err != nil {
		return nil, api.NewError(api.KindSDK, "Invalid request", err)
	}

	for key, value := range injected.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.retryableFor(state).Do(httpReq)
	if err != nil {
		// The passthrough handler hands back the last response with a
		// context error.
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}

		return nil, api.Classify(nil, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, api.Classify(nil, fmt.Errorf("failed to read response body: %w", err))
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       data,
		Attempts:   state.sends,
		Duration:   time.Since(start),
	}

	err = c.interceptors.ExecuteResponseInterceptors(ctx, state.req, resp)
	if err != nil {
		return resp, api.Classify(nil, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return resp, api.Classify(resp, nil)
	}

	return resp, nil
}

func (c *Client) buildURL(req *Request) string {
	path := req.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	target := c.baseURL + path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	return target
}

// checkRetry classifies every attempt and asks the policy about it.
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	state, ok := callStateFrom(ctx)
	if !ok {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	var cause *api.Error

	switch {
	case err != nil:
		// Redirect loops, bad schemes and certificate failures are permanent.
		if transient, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, err); !transient {
			return false, nil
		}

		cause = api.Classify(nil, err)
	case resp.StatusCode >= http.StatusBadRequest:
		cause = api.Classify(&api.Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Header,
		}, nil)
	default:
		return false, nil
	}

	delay, retrying := state.retry.Next(cause, state.req.Idempotent())
	if !retrying {
		return false, nil
	}

	state.delay = delay

	c.interceptors.ExecuteRetryInterceptors(ctx, state.req, state.retry.Attempt, cause)
	c.metrics.ObserveRetry(cause.Kind)

	return true, nil
}

// prepareRetry re-reads the stored credential before each re-send, so a
// retry after another call's refresh uses the new token.
func (c *Client) prepareRetry(req *http.Request) error {
	state, ok := callStateFrom(req.Context())
	if !ok || c.injector == nil {
		return nil
	}

	token, err := c.injector.CurrentToken(req.Context())
	if err != nil {
		return err
	}

	if token != "" && token != state.token {
		req.Header = req.Header.Clone()
		req.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
		state.token = token
	}

	return nil
}

func (c *Client) logRequest(_ retryablehttp.Logger, req *http.Request, attempt int) {
	c.logger.Debug("HTTP Request", map[string]interface{}{
		"method":  req.Method,
		"url":     req.URL.String(),
		"attempt": attempt,
	})
}

func (c *Client) logResponse(_ retryablehttp.Logger, resp *http.Response) {
	c.logger.Debug("HTTP Response", map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
	})
}

// callState is owned by a single logical call.
type callState struct {
	req     *Request
	retry   *retry.Context
	timeout time.Duration
	// token is the access token sent on the latest attempt.
	token string
	// sends counts transport round trips.
	sends int
	// delay is the wait granted by the latest retry decision. 429 responses
	// carry the server's Retry-After through the classified error.
	delay time.Duration
}

type callStateKey struct{}

func withCallState(ctx context.Context, state *callState) context.Context {
	return context.WithValue(ctx, callStateKey{}, state)
}

func callStateFrom(ctx context.Context) (*callState, bool) {
	state, ok := ctx.Value(callStateKey{}).(*callState)

	return state, ok
}

// timeoutTransport applies the call's per-attempt timeout to each round
// trip, including reading the response body.
type timeoutTransport struct {
	base http.RoundTripper
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	state, ok := callStateFrom(req.Context())
	if !ok {
		return t.base.RoundTrip(req)
	}

	state.sends++

	if state.timeout <= 0 {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), state.timeout)

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}

		cancel()

		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}

// leveledLogger adapts api.Logger to retryablehttp.LeveledLogger. Debug
// messages repeat what the request and response hooks log and are dropped.
type leveledLogger struct {
	logger api.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fields(keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fields(keysAndValues))
}

func (l *leveledLogger) Debug(string, ...interface{}) {}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	return out
}
