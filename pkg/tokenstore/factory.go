package tokenstore

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// Type names a store backend.
type Type string

const (
	// TypeMemory keeps tokens in process memory.
	TypeMemory Type = "memory"

	// TypeFile keeps tokens in a YAML file.
	TypeFile Type = "file"

	// TypeNATS keeps tokens in a NATS JetStream key/value bucket.
	TypeNATS Type = "nats"

	// TypeRedis keeps tokens in Redis.
	TypeRedis Type = "redis"
)

// Store is a TokenStorage that can also return the whole pair.
type Store interface {
	api.TokenStorage
	Load(ctx context.Context) (*api.TokenPair, error)
}

// Config selects and configures a backend.
type Config struct {
	Type  Type
	Path  string
	NATS  *NATSConfig
	Redis *RedisConfig
}

// New creates a store from configuration. A nil config yields a memory store.
func New(ctx context.Context, config *Config) (Store, error) {
	if config == nil {
		return NewMemory(), nil
	}

	switch config.Type {
	case TypeMemory, "":
		return NewMemory(), nil

	case TypeFile:
		return NewFile(config.Path)

	case TypeNATS:
		return NewNATS(ctx, config.NATS)

	case TypeRedis:
		return NewRedis(config.Redis), nil

	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrUnsupportedTokenStore, config.Type)
	}
}

// Close releases backend resources held by store, if any.
func Close(store api.TokenStorage) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}

	return closer.Close()
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*File)(nil)
	_ Store = (*NATS)(nil)
	_ Store = (*Redis)(nil)
)
