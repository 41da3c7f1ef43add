package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyFormat = "cc:%s:%s"

type redisValue struct {
	Payload     json.RawMessage `json:"payload"`
	CachedUntil time.Time       `json:"cached_until"`
}

type redisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore stores entries as JSON strings whose redis TTL matches the
// remaining lifetime, so redis reclaims them on its own.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client, now: time.Now}
}

func redisKey(scope, hash string) string {
	return fmt.Sprintf(redisKeyFormat, scope, hash)
}

func (s *redisStore) Get(ctx context.Context, scope, hash string, now time.Time) (Entry, bool, error) {
	if err := validateKey(scope, hash); err != nil {
		return Entry{}, false, err
	}
	raw, err := s.client.Get(ctx, redisKey(scope, hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var value redisValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if !now.Before(value.CachedUntil) {
		return Entry{}, false, nil
	}
	return Entry{
		Scope:       scope,
		Hash:        hash,
		Payload:     value.Payload,
		CachedUntil: value.CachedUntil.UTC(),
	}, true, nil
}

func (s *redisStore) Put(ctx context.Context, entry Entry) error {
	if err := validateKey(entry.Scope, entry.Hash); err != nil {
		return err
	}
	ttl := entry.CachedUntil.Sub(s.now())
	if ttl <= 0 {
		return s.client.Del(ctx, redisKey(entry.Scope, entry.Hash)).Err()
	}
	raw, err := json.Marshal(redisValue{
		Payload:     entry.Payload,
		CachedUntil: entry.CachedUntil.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.client.Set(ctx, redisKey(entry.Scope, entry.Hash), raw, ttl).Err()
}

// Purge is a no-op; redis expires keys itself.
func (s *redisStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}
