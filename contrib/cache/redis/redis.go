package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

// Store implements tokenizer.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ tokenizer.Store = (*Store)(nil)

// Config holds Redis configuration for the encode cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "localhost:6379",
		Prefix: "chai:encode:",
		TTL:    time.Hour,
	}
}

// NewStore creates a new Redis-backed encode cache.
func NewStore(config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return NewStoreWithClient(client, config.Prefix, config.TTL)
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get loads cached ids for key.
func (s *Store) Get(ctx context.Context, key string) ([]int, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load encode cache entry: %w", err)
	}

	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to decode encode cache entry: %w", err)
	}
	return ids, true, nil
}

// Set stores ids for key with the configured TTL.
func (s *Store) Set(ctx context.Context, key string, ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save encode cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
