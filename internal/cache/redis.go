package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"policy-rag-assistant/internal/config"
)

// Cache operations must never stall a request; they get a short deadline of
// their own and failures degrade to a miss.
const redisOpTimeout = 300 * time.Millisecond

// Redis is a Cache backed by a shared Redis instance, for deployments that
// run more than one assistant process.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis using the cache configuration and verifies the
// connection with a ping.
func NewRedis(cfg config.CacheConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s failed: %w", cfg.RedisAddr, err)
	}

	return &Redis{client: client}, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: redis get %s: %v", key, err)
		}
		return nil, false
	}
	return value, true
}

// Set implements Cache. Errors are logged and swallowed; the cache is an
// optimization, not a dependency.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("cache: redis set %s: %v", key, err)
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), redisOpTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= redisOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
