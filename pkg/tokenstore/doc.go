// Package tokenstore provides api.TokenStorage implementations: an
// in-memory store, a YAML file, a NATS JetStream key/value bucket and Redis.
//
// Every store is safe for concurrent use. Stores report "no token" as an
// empty string, never as an error.
package tokenstore
