package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "callvox:session:"

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// RedisBackend stores each session as JSON under prefix+callID with a TTL,
// so abandoned calls expire on their own.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Session backend ready", "redis", cfg.Addr, "ttl", cfg.TTL)
	return NewRedisBackendWithClient(client, cfg.TTL, cfg.Prefix), nil
}

func NewRedisBackendWithClient(client *redis.Client, ttl time.Duration, prefix string) *RedisBackend {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBackend{client: client, ttl: ttl, prefix: prefix}
}

func (r *RedisBackend) Key(callID string) string {
	return r.prefix + callID
}

func (r *RedisBackend) Load(ctx context.Context, callID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.Key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisBackend) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.Key(s.CallID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
