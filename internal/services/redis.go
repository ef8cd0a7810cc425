package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCacheKeyPrefix = "cache:"

// RedisCacheStore is the Redis-backed persisted tier, for deployments where
// the cache must be shared across horizontally-scaled instances. Expiry is
// delegated to Redis TTLs, so DeleteExpired is a no-op here.
type RedisCacheStore struct {
	client *redis.Client
}

// NewRedisCacheStore creates a Redis cache store from a redis:// URL
func NewRedisCacheStore(redisURL string) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Println("Redis connection established")
	return &RedisCacheStore{client: client}, nil
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	data, err := s.client.Get(ctx, redisCacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, ErrCacheMiss
		}
		return nil, time.Time{}, err
	}

	// Remaining lifetime comes from the Redis TTL
	ttl, err := s.client.TTL(ctx, redisCacheKeyPrefix+key).Result()
	if err != nil || ttl <= 0 {
		return nil, time.Time{}, ErrCacheMiss
	}
	return data, time.Now().Add(ttl), nil
}

func (s *RedisCacheStore) Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, redisCacheKeyPrefix+key, data, ttl).Err()
}

func (s *RedisCacheStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisCacheKeyPrefix+key).Err()
}

func (s *RedisCacheStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisCacheKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisCacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	// Redis evicts expired keys on its own
	return 0, nil
}

// Close closes the Redis connection
func (s *RedisCacheStore) Close() error {
	return s.client.Close()
}
