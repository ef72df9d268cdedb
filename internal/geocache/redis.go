package geocache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OpenRedis creates a client for addr. It does not dial until first use.
func OpenRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// RedisStore persists the cache as a single Redis hash, one field per address.
// Saves are incremental: only changed fields are written or deleted.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a store in the hash named key.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load reads every field of the hash. Fields that fail to decode are skipped.
func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	entries := make(map[string]Entry, len(raw))
	for field, value := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			continue
		}
		entries[field] = e
	}
	return entries, nil
}

// Save writes changed fields in one transaction.
func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry, changed []string) error {
	if len(changed) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, field := range changed {
		e, ok := entries[field]
		if !ok {
			pipe.HDel(ctx, s.key, field)
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal cache entry %q: %w", field, err)
		}
		pipe.HSet(ctx, s.key, field, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}
