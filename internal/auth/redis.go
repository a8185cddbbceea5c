package auth

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is an Authenticator backed by a remote key/value store: EXISTS
// on the credential key for auth, and an atomic HINCRBY pipeline on
// "upload"/"download" fields for stat. The underlying client maintains
// its own pooled, auto-reconnecting set of connections, so Redis itself
// carries no per-connection state and is safe for concurrent use.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis authenticator talking to the given
// "host:port" server address.
func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Auth implements Authenticator.
func (r *Redis) Auth(ctx context.Context, credential string) (bool, error) {
	n, err := r.client.Exists(ctx, credential).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis EXISTS %s: %w", credential, err)
	}
	return n > 0, nil
}

// Stat implements Authenticator.
func (r *Redis) Stat(ctx context.Context, credential string, upload, download uint64) error {
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, credential, "upload", int64(upload))
	pipe.HIncrBy(ctx, credential, "download", int64(download))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: redis stat pipeline for %s: %w", credential, err)
	}
	return nil
}
