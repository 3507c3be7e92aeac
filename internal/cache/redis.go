package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis connection timeout.
const redisConnectTimeout = 10 * time.Second

// Redis is a Redis-backed Cache, for deployments where several instances
// should share the provider-config snapshot.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host   string
	Port   int
	Proto  string // "redis" or "rediss" (TLS)
	Pass   string
	DB     int
	Prefix string
}

// NewRedis creates a Redis-backed cache and verifies the connection.
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Pass,
		DB:       cfg.DB,
	}
	if cfg.Proto == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cache:"
	}

	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) Get(key string) ([]byte, bool) {
	b, err := r.client.Get(context.Background(), r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(key string, value []byte, ttl time.Duration) {
	r.client.Set(context.Background(), r.prefix+key, value, ttl)
}

func (r *Redis) Delete(key string) {
	r.client.Del(context.Background(), r.prefix+key)
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
