package tokenstore

import (
	"context"
	"sync"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// Memory keeps the token pair in process memory.
type Memory struct {
	mu   sync.RWMutex
	pair *api.TokenPair
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// GetAccessToken returns the stored access token.
func (m *Memory) GetAccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return "", nil
	}

	return m.pair.AccessToken, nil
}

// GetRefreshToken returns the stored refresh token.
func (m *Memory) GetRefreshToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return "", nil
	}

	return m.pair.RefreshToken, nil
}

// SetTokens replaces the stored pair with a copy of pair.
func (m *Memory) SetTokens(ctx context.Context, pair *api.TokenPair) error {
	if pair == nil {
		return constants.ErrNilTokenPair
	}

	stored := *pair

	m.mu.Lock()
	m.pair = &stored
	m.mu.Unlock()

	return nil
}

// Clear removes the stored pair.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.pair = nil
	m.mu.Unlock()

	return nil
}

// Load returns a copy of the stored pair, or nil when empty.
func (m *Memory) Load(ctx context.Context) (*api.TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return nil, nil //nolint:nilnil // an empty store is not an error
	}

	pair := *m.pair

	return &pair, nil
}
