package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cart:"

// Store persists carts keyed by session. The aggregate itself is
// storage-agnostic; this is the seam swapped out in tests.
type Store interface {
	Load(ctx context.Context, sessionKey string) (*Cart, error)
	Save(ctx context.Context, cart *Cart) error
	Delete(ctx context.Context, sessionKey string) error
	SessionKeys(ctx context.Context) ([]string, error)
}

// RedisStore keeps carts in Redis with a TTL, mirroring the lifetime of the
// session that owns them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Load returns the session's cart, or a fresh empty one.
func (s *RedisStore) Load(ctx context.Context, sessionKey string) (*Cart, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Cart{SessionKey: sessionKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cart: load %q: %w", sessionKey, err)
	}
	var cart Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("cart: decode %q: %w", sessionKey, err)
	}
	return &cart, nil
}

// Save writes the cart back, refreshing the TTL.
func (s *RedisStore) Save(ctx context.Context, cart *Cart) error {
	cart.UpdatedAt = time.Now()
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("cart: encode %q: %w", cart.SessionKey, err)
	}
	if err := s.client.Set(ctx, keyPrefix+cart.SessionKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cart: save %q: %w", cart.SessionKey, err)
	}
	return nil
}

// Delete drops the session's cart.
func (s *RedisStore) Delete(ctx context.Context, sessionKey string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionKey).Err(); err != nil {
		return fmt.Errorf("cart: delete %q: %w", sessionKey, err)
	}
	return nil
}

// SessionKeys lists sessions that currently hold a cart.
func (s *RedisStore) SessionKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cart: scan sessions: %w", err)
	}
	return keys, nil
}
