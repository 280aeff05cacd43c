package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sharemirror/internal/config"
)

const guardKeyPrefix = "sharemirror:run:"

// releaseScript deletes the lock only while it still carries our token, so an expired
// lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisRunGuard is a run guard shared by every process pointed at the same redis.
// Locks expire after ttl so a crashed holder cannot block a task forever.
type RedisRunGuard struct {
	client *redis.Client
	ttl    time.Duration
	tokens sync.Map
}

func NewRedisRunGuard(client *redis.Client, ttl time.Duration) *RedisRunGuard {
	return &RedisRunGuard{client: client, ttl: ttl}
}

func (g *RedisRunGuard) TryAcquire(ctx context.Context, key string) (bool, error) {
	if g.client == nil {
		return false, errors.New("redis client is nil")
	}
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, guardKeyPrefix+key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if ok {
		g.tokens.Store(key, token)
	}
	return ok, nil
}

func (g *RedisRunGuard) Release(ctx context.Context, key string) error {
	if g.client == nil {
		return errors.New("redis client is nil")
	}
	token, ok := g.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, g.client, []string{guardKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
