package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry shares claimed nonces across processes with SET NX.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a registry backed by the Redis server at addr.
func NewRedisRegistry(addr, password string, db int, ttl time.Duration) *RedisRegistry {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisRegistryFromClient(rdb, ttl)
}

// NewRedisRegistryFromClient wraps an existing client.
func NewRedisRegistryFromClient(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{client: client, prefix: "vext:nonce:", ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Claim implements Registry.
func (r *RedisRegistry) Claim(ctx context.Context, nonce string) error {
	if nonce == "" {
		return fmt.Errorf("nonce: empty")
	}
	ok, err := r.client.SetNX(ctx, r.prefix+nonce, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("nonce: redis claim: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrReplay, nonce)
	}
	return nil
}

// Close releases the client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
