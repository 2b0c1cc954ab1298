package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// RedisConfig configures a Redis store.
type RedisConfig struct {
	// Addr is host:port of the Redis server. Ignored when Client is set.
	Addr     string
	Password string
	DB       int
	// Client is an existing client to use instead of dialing Addr.
	Client *redis.Client
	// KeyPrefix defaults to "apiclient:tokens:".
	KeyPrefix string
	// Key names the pair under the prefix; defaults to "default".
	Key string
}

// Redis stores the token pair as one JSON value in Redis, so several
// processes can share a credential.
type Redis struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedis creates a Redis store.
func NewRedis(cfg *RedisConfig) *Redis {
	if cfg == nil {
		cfg = &RedisConfig{}
	}

	client := cfg.Client
	owned := false

	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		owned = true
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = constants.DefaultRedisKeyPrefix
	}

	key := cfg.Key
	if key == "" {
		key = constants.DefaultTokenKey
	}

	return &Redis{client: client, key: prefix + key, owned: owned}
}

// GetAccessToken returns the stored access token.
func (r *Redis) GetAccessToken(ctx context.Context) (string, error) {
	pair, err := r.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.AccessToken, nil
}

// GetRefreshToken returns the stored refresh token.
func (r *Redis) GetRefreshToken(ctx context.Context) (string, error) {
	pair, err := r.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.RefreshToken, nil
}

// SetTokens stores pair without expiry; the refresh token outlives the
// access token.
func (r *Redis) SetTokens(ctx context.Context, pair *api.TokenPair) error {
	if pair == nil {
		return constants.ErrNilTokenPair
	}

	data, err := encodePair(pair)
	if err != nil {
		return err
	}

	err = r.client.Set(ctx, r.key, data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to store tokens in redis: %w", err)
	}

	return nil
}

// Clear deletes the stored pair.
func (r *Redis) Clear(ctx context.Context) error {
	err := r.client.Del(ctx, r.key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete tokens from redis: %w", err)
	}

	return nil
}

// Load returns the stored pair, or nil when the key does not exist.
func (r *Redis) Load(ctx context.Context) (*api.TokenPair, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // a missing key is an empty store
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read tokens from redis: %w", err)
	}

	return decodePair(data)
}

// Close closes the Redis client when the store created it.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}

	return r.client.Close()
}
