package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"societyapp/config"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idempotency:create-order:"

// IdempotencyStore запоминает, какой платеж создан по ключу идемпотентности
type IdempotencyStore interface {
	// Reserve закрепляет ключ за paymentID. Если ключ уже занят,
	// возвращает ранее сохраненный paymentID и reserved=false.
	Reserve(ctx context.Context, key, paymentID string) (existing string, reserved bool, err error)
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore хранит ключи в Redis с TTL
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает клиент Redis из конфигурации
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// NewRedisIdempotencyStore создает новый экземпляр RedisIdempotencyStore
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key, paymentID string) (string, bool, error) {
	redisKey := idempotencyPrefix + key

	ok, err := s.client.SetNX(ctx, redisKey, paymentID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return paymentID, true, nil
	}

	existing, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// Ключ истек между SETNX и GET
		return s.Reserve(ctx, key, paymentID)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return existing, false, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyPrefix+key).Err()
}
