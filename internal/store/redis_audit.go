package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tradekernel/internal/domain"
)

// RedisLogConfig configures the Redis-backed decision log.
type RedisLogConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces the log key; MaxEntries bounds the list length
	// server-side via LTRIM.
	KeyPrefix  string `yaml:"key_prefix"`
	MaxEntries int64  `yaml:"max_entries"`
}

// DefaultRedisLogConfig returns the defaults used when operators enable the
// Redis log without tuning it.
func DefaultRedisLogConfig() RedisLogConfig {
	return RedisLogConfig{
		Addr:       "localhost:6379",
		KeyPrefix:  "tradekernel:",
		MaxEntries: 100000,
	}
}

// RedisLog is a decision log backed by a Redis list. Entries are JSON
// documents pushed to the tail; the list is trimmed to MaxEntries.
type RedisLog struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisLog creates a Redis-backed log from config.
func NewRedisLog(cfg RedisLogConfig) *RedisLog {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewRedisLogWithClient(client, cfg)
}

// NewRedisLogWithClient wires an existing client, used by tests with a mock.
func NewRedisLogWithClient(client *redis.Client, cfg RedisLogConfig) *RedisLog {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tradekernel:"
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = 100000
	}
	return &RedisLog{client: client, key: prefix + "decisions", max: max}
}

// Append pushes the decision to the tail of the log and trims to capacity.
func (l *RedisLog) Append(ctx context.Context, d domain.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	if err := l.client.RPush(ctx, l.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}

	// Keep only the newest max entries.
	if err := l.client.LTrim(ctx, l.key, -l.max, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim decision log: %w", err)
	}
	return nil
}

// Recent returns up to n most recent decisions, newest first.
func (l *RedisLog) Recent(ctx context.Context, n int) ([]domain.Decision, error) {
	if n <= 0 {
		n = 100
	}

	raw, err := l.client.LRange(ctx, l.key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision log: %w", err)
	}

	out := make([]domain.Decision, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var d domain.Decision
		if err := json.Unmarshal([]byte(raw[i]), &d); err != nil {
			return nil, fmt.Errorf("corrupt decision log entry: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Ping verifies connectivity, used by the health endpoint.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
