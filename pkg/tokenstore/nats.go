package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/api"
)

// NATSConfig configures a NATS JetStream key/value store.
type NATSConfig struct {
	// URL of the NATS server. Ignored when Conn is set.
	URL string
	// Conn is an existing connection to use instead of dialing URL.
	Conn *nats.Conn
	// Bucket defaults to "apiclient_tokens" and is created when missing.
	Bucket string
	// Key defaults to "default".
	Key string
	// Replicas sets the bucket replication factor.
	Replicas int
}

// NATS stores the token pair in a JetStream key/value bucket.
type NATS struct {
	conn  *nats.Conn
	kv    jetstream.KeyValue
	key   string
	owned bool
}

// NewNATS connects to NATS and opens (or creates) the bucket.
func NewNATS(ctx context.Context, cfg *NATSConfig) (*NATS, error) {
	if cfg == nil {
		cfg = &NATSConfig{}
	}

	conn := cfg.Conn
	owned := false

	if conn == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}

		var err error

		conn, err = nats.Connect(url, nats.Name("apiclient-tokenstore"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		owned = true
	}

	js, err := jetstream.New(conn)
	if err != nil {
		closeOwned(conn, owned)

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = constants.DefaultNATSBucket
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "apiclient token pairs",
		History:     1,
		Replicas:    max(cfg.Replicas, 1),
	})
	if err != nil {
		closeOwned(conn, owned)

		return nil, fmt.Errorf("failed to open key/value bucket %q: %w", bucket, err)
	}

	key := cfg.Key
	if key == "" {
		key = constants.DefaultTokenKey
	}

	return &NATS{conn: conn, kv: kv, key: key, owned: owned}, nil
}

func closeOwned(conn *nats.Conn, owned bool) {
	if owned {
		conn.Close()
	}
}

// GetAccessToken returns the stored access token.
func (n *NATS) GetAccessToken(ctx context.Context) (string, error) {
	pair, err := n.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.AccessToken, nil
}

// GetRefreshToken returns the stored refresh token.
func (n *NATS) GetRefreshToken(ctx context.Context) (string, error) {
	pair, err := n.Load(ctx)
	if err != nil || pair == nil {
		return "", err
	}

	return pair.RefreshToken, nil
}

// SetTokens stores pair.
func (n *NATS) SetTokens(ctx context.Context, pair *api.TokenPair) error {
	if pair == nil {
		return constants.ErrNilTokenPair
	}

	data, err := encodePair(pair)
	if err != nil {
		return err
	}

	_, err = n.kv.Put(ctx, n.key, data)
	if err != nil {
		return fmt.Errorf("failed to store tokens in NATS: %w", err)
	}

	return nil
}

// Clear deletes the stored pair.
func (n *NATS) Clear(ctx context.Context) error {
	err := n.kv.Delete(ctx, n.key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete tokens from NATS: %w", err)
	}

	return nil
}

// Load returns the stored pair, or nil when the key does not exist.
func (n *NATS) Load(ctx context.Context) (*api.TokenPair, error) {
	entry, err := n.kv.Get(ctx, n.key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil //nolint:nilnil // a missing key is an empty store
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read tokens from NATS: %w", err)
	}

	return decodePair(entry.Value())
}

// Close closes the connection when the store created it.
func (n *NATS) Close() error {
	closeOwned(n.conn, n.owned)

	return nil
}
