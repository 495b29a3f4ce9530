package repository

import (
	"context"
	"errors"
	"fmt"

	"dayroll/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore stores records as plain string keys under a prefix.
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisKVStore(client *redis.Client, prefix string) *RedisKVStore {
	return &RedisKVStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisKVStore) key(k string) string {
	if r.prefix == "" {
		return "kv:" + k
	}
	return r.prefix + ":kv:" + k
}

func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q from redis: %w", key, err)
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %q in redis: %w", key, err)
	}
	return nil
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %q from redis: %w", key, err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
