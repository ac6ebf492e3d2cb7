package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"livewatch/internal/verification"
)

// SharedStore is a second cache tier shared between replicas. Store failures
// never fail a resolution; they only cost a cache miss.
type SharedStore interface {
	Get(ctx context.Context, channelID string) (verification.Result, bool, error)
	Set(ctx context.Context, channelID string, result verification.Result, ttl time.Duration) error
	Delete(ctx context.Context, channelID string) error
	Clear(ctx context.Context) error
}

// RedisConfig configures the Redis-backed shared store.
type RedisConfig struct {
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	MasterName string
	PoolSize   int
	KeyPrefix  string
	Timeout    time.Duration
}

// Enabled reports whether any address is configured.
func (c RedisConfig) Enabled() bool {
	return len(c.addrs()) > 0
}

func (c RedisConfig) addrs() []string {
	addrs := make([]string, 0, len(c.Addrs)+1)
	for _, addr := range c.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	return addrs
}

// RedisStore keeps resolution results as JSON strings with a native TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore dials lazily; the first command surfaces connection errors.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addrs := cfg.addrs()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   1,
	})
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "livewatch:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix + "resolve:"}
}

func (s *RedisStore) key(channelID string) string {
	return s.prefix + channelID
}

func (s *RedisStore) Get(ctx context.Context, channelID string) (verification.Result, bool, error) {
	payload, err := s.client.Get(ctx, s.key(channelID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return verification.Result{}, false, nil
	}
	if err != nil {
		return verification.Result{}, false, fmt.Errorf("redis get: %w", err)
	}
	var result verification.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return verification.Result{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return result, true, nil
}

func (s *RedisStore) Set(ctx context.Context, channelID string, result verification.Result, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.Set(ctx, s.key(channelID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, channelID string) error {
	if err := s.client.Del(ctx, s.key(channelID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every result under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks connectivity for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
