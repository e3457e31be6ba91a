package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis settings for the firing guard.
type Config struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`
	// TTL bounds how long a reservation is remembered. It must exceed the
	// event log's retention so a late redelivery still finds the record.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
		TTL:      7 * 24 * time.Hour,
	}
}

// RedisStore implements Store on Redis. Reservation is a single SET NX,
// which is atomic across all dispatcher instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *Config, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedup: redis connection failed: %w", err)
	}

	logger.Info("dedup store connected", "addr", cfg.Addr, "ttl", cfg.TTL)
	return &RedisStore{client: client, ttl: cfg.TTL, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client, used in tests.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) Reserve(ctx context.Context, key Key) (bool, error) {
	rec := Record{ReservedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("dedup: marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key.String(), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: reserve: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("dedup: release: %w", err)
	}
	return nil
}

func (s *RedisStore) SetExecution(ctx context.Context, key Key, executionID string) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			rec = &Record{ReservedAt: time.Now().UTC()}
		} else {
			return err
		}
	}
	rec.ExecutionID = executionID

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dedup: marshal record: %w", err)
	}
	// KeepTTL preserves the reservation's original expiry.
	if err := s.client.Set(ctx, key.String(), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("dedup: set execution: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Record, error) {
	data, err := s.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dedup: get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("dedup: unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
