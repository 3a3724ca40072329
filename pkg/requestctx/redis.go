package requestctx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a redis-backed Store implementation for deployments where
// multiple instances must see the same live contexts. Entries carry no TTL;
// the propagation middleware's guaranteed deletion keeps the keyspace
// bounded, matching the in-memory semantics.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a redis-backed context store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "requestctx"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Set registers a context under id, overwriting any existing entry.
func (s *RedisStore) Set(ctx context.Context, id string, rc Context) error {
	payload, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to marshal request context: %w", err)
	}
	return s.client.Set(ctx, s.key(id), payload, 0).Err()
}

// Get returns the context registered under id.
func (s *RedisStore) Get(ctx context.Context, id string) (Context, bool, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, err
	}

	var rc Context
	if err := json.Unmarshal(payload, &rc); err != nil {
		return Context{}, false, fmt.Errorf("failed to unmarshal request context: %w", err)
	}
	return rc, true, nil
}

// Delete removes the context registered under id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Clear wipes every entry under this store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
