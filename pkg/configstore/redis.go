package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "embedchat:config:"

// RedisStore implements Store using Redis. Each config is a JSON string
// keyed by its id; owner sets index configs for List.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default: "embedchat:config:").
	Prefix string
	// TTL expires configs after this long (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		// Close client to release connection pool resources
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient creates a store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (b *RedisStore) configKey(id string) string {
	return b.prefix + "cfg:" + id
}

func (b *RedisStore) allIndexKey() string {
	return b.prefix + "all"
}

func (b *RedisStore) ownerIndexKey(ownerID string) string {
	return b.prefix + "owner:" + ownerID
}

func (b *RedisStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func (b *RedisStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	if err := b.checkOpen(); err != nil {
		return AssistantConfig{}, err
	}

	data, err := b.client.Get(ctx, b.configKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AssistantConfig{}, ErrNotFound
		}
		return AssistantConfig{}, fmt.Errorf("get config: %w", err)
	}

	var cfg AssistantConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AssistantConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (b *RedisStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// A replaced config may have changed owner.
	prev, err := b.Get(ctx, cfg.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.configKey(cfg.ID), data, b.ttl)
	pipe.SAdd(ctx, b.allIndexKey(), cfg.ID)
	if err == nil && prev.OwnerID != cfg.OwnerID && prev.OwnerID != "" {
		pipe.SRem(ctx, b.ownerIndexKey(prev.OwnerID), cfg.ID)
	}
	if cfg.OwnerID != "" {
		pipe.SAdd(ctx, b.ownerIndexKey(cfg.OwnerID), cfg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (b *RedisStore) Delete(ctx context.Context, id string) error {
	cfg, err := b.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.configKey(id))
	pipe.SRem(ctx, b.allIndexKey(), id)
	if cfg.OwnerID != "" {
		pipe.SRem(ctx, b.ownerIndexKey(cfg.OwnerID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

func (b *RedisStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	indexKey := b.allIndexKey()
	if opts.OwnerID != "" {
		indexKey = b.ownerIndexKey(opts.OwnerID)
	}

	ids, err := b.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list config ids: %w", err)
	}
	if len(ids) == 0 {
		return []AssistantConfig{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.configKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}

	out := make([]AssistantConfig, 0, len(values))
	for _, v := range values {
		// Expired configs leave stale index entries behind.
		s, ok := v.(string)
		if !ok {
			continue
		}
		var cfg AssistantConfig
		if err := json.Unmarshal([]byte(s), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		out = append(out, cfg)
	}
	return opts.filter(out), nil
}

// Ping checks the Redis connection.
func (b *RedisStore) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close releases resources held by the store.
func (b *RedisStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
