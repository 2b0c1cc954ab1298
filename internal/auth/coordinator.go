package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

const messageRefreshFailed = "Token refresh failed"

// CoordinatorConfig configures a RefreshCoordinator.
type CoordinatorConfig struct {
	Refresh     api.RefreshFunc
	Storage     api.TokenStorage
	OnAuthError api.AuthErrorFunc
	// Timeout bounds one refresh callback execution. Zero means 30s.
	Timeout time.Duration
	Logger  api.Logger
	Metrics *api.Metrics
}

// refreshCall is the shared result holder of one refresh cycle. pair and err
// are written before done is closed and only read after.
type refreshCall struct {
	done chan struct{}
	pair *api.TokenPair
	err  *api.Error
}

// RefreshCoordinator makes concurrent authentication failures share a single
// refresh. It cycles between idle (inflight == nil) and refreshing for the
// lifetime of its client.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inflight *refreshCall

	refresh     api.RefreshFunc
	storage     api.TokenStorage
	onAuthError api.AuthErrorFunc
	timeout     time.Duration
	logger      api.Logger
	metrics     *api.Metrics
}

// NewRefreshCoordinator creates an idle coordinator.
func NewRefreshCoordinator(cfg CoordinatorConfig) *RefreshCoordinator {
	coordinator := &RefreshCoordinator{
		refresh:     cfg.Refresh,
		storage:     cfg.Storage,
		onAuthError: cfg.OnAuthError,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}

	if coordinator.timeout <= 0 {
		coordinator.timeout = constants.DefaultRefreshTimeout
	}

	if coordinator.logger == nil {
		coordinator.logger = api.NopLogger{}
	}

	return coordinator
}

// Refreshing reports whether a refresh is in flight.
func (c *RefreshCoordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inflight != nil
}

// HandleAuthFailure returns a credential pair to replay a request rejected
// with staleToken. When idle it starts the refresh callback exactly once;
// while a refresh is in flight it joins it. If storage already holds a token
// other than staleToken, an earlier refresh has replaced it and that pair is
// returned without a new refresh.
//
// The wait is bounded by ctx. A waiter giving up does not cancel the shared
// refresh. Failures are always *api.Error.
func (c *RefreshCoordinator) HandleAuthFailure(ctx context.Context, staleToken string) (*api.TokenPair, error) {
	if InRefresh(ctx) {
		return nil, api.NewError(api.KindAuthentication, messageRefreshFailed, constants.ErrRefreshRecursion)
	}

	c.mu.Lock()

	call := c.inflight
	if call == nil {
		if pair, ok := c.replacedLocked(ctx, staleToken); ok {
			c.mu.Unlock()

			return pair, nil
		}

		call = &refreshCall{done: make(chan struct{})}
		c.inflight = call

		go c.run(ctx, call)
	}

	c.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return nil, call.err
		}

		return call.pair, nil
	case <-ctx.Done():
		return nil, api.Classify(nil, ctx.Err())
	}
}

// replacedLocked returns the stored pair when its access token differs from
// staleToken. Must be called with c.mu held.
func (c *RefreshCoordinator) replacedLocked(ctx context.Context, staleToken string) (*api.TokenPair, bool) {
	if c.storage == nil {
		return nil, false
	}

	current, err := c.storage.GetAccessToken(ctx)
	if err != nil || current == "" || current == staleToken {
		return nil, false
	}

	refreshToken, err := c.storage.GetRefreshToken(ctx)
	if err != nil {
		refreshToken = ""
	}

	return &api.TokenPair{AccessToken: current, RefreshToken: refreshToken}, true
}

func (c *RefreshCoordinator) run(parent context.Context, call *refreshCall) {
	detached := WithRefreshMarker(context.WithoutCancel(parent))

	ctx, cancel := context.WithTimeout(detached, c.timeout)
	defer cancel()

	start := time.Now()

	c.logger.Debug("Refreshing access token", nil)

	pair, err := c.invoke(ctx)
	if err == nil && (pair == nil || pair.AccessToken == "") {
		err = constants.ErrEmptyAccessToken
	}

	c.mu.Lock()

	if err == nil {
		pair = WithDerivedExpiry(pair)
		err = c.storeLocked(detached, pair)
	}

	if err != nil {
		c.clearLocked(detached)

		call.err = api.NewError(api.KindAuthentication, messageRefreshFailed, err)
	} else {
		call.pair = pair
	}

	c.mu.Unlock()

	c.metrics.ObserveRefresh(call.err == nil)

	if call.err != nil {
		c.logger.Warn("Token refresh failed", map[string]interface{}{
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})

		c.notify(detached, call.err)
	} else {
		c.logger.Debug("Access token refreshed", map[string]interface{}{
			"duration": time.Since(start).String(),
		})
	}

	// Idle again only once waiters are released. A 401 arriving while
	// OnAuthError runs joins this failed cycle.
	c.mu.Lock()
	c.inflight = nil
	close(call.done)
	c.mu.Unlock()
}

// invoke runs the refresh callback, turning a panic into an error.
func (c *RefreshCoordinator) invoke(ctx context.Context) (pair *api.TokenPair, err error) {
	if c.refresh == nil {
		return nil, constants.ErrNoRefreshToken
	}

	defer func() {
		if r := recover(); r != nil {
			pair = nil
			err = fmt.Errorf("%w: %v", constants.ErrRefreshPanicked, r)
		}
	}()

	return c.refresh(ctx)
}

func (c *RefreshCoordinator) storeLocked(ctx context.Context, pair *api.TokenPair) error {
	if c.storage == nil {
		return nil
	}

	err := c.storage.SetTokens(ctx, pair)
	if err != nil {
		return fmt.Errorf("storing refreshed tokens: %w", err)
	}

	return nil
}

func (c *RefreshCoordinator) clearLocked(ctx context.Context) {
	if c.storage == nil {
		return
	}

	err := c.storage.Clear(ctx)
	if err != nil {
		c.logger.Warn("Failed to clear token storage", map[string]interface{}{"error": err.Error()})
	}
}

// notify reports a failed cycle once. It runs before waiters are released so
// they observe the callback's effects.
func (c *RefreshCoordinator) notify(ctx context.Context, err *api.Error) {
	if c.onAuthError == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Auth error callback panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()

	c.onAuthError(ctx, err)
}
