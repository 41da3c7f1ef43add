package contentcache

import (
	"context"
	"time"

	"github.com/smallbiznis/creatorquota/internal/cache"
	"github.com/smallbiznis/creatorquota/internal/clock"
)

type memoryStore struct {
	items *cache.TTLCache[string, Entry]
}

// NewMemoryStore keeps entries in process memory. Entries are not shared
// across instances.
func NewMemoryStore(clk clock.Clock, capacity int) Store {
	return &memoryStore{items: cache.NewTTLCache[string, Entry](clk, capacity)}
}

func (s *memoryStore) Get(_ context.Context, scope, hash string, now time.Time) (Entry, bool, error) {
	if err := validateKey(scope, hash); err != nil {
		return Entry{}, false, err
	}
	entry, _, ok := s.items.GetAt(redisKey(scope, hash), now)
	if !ok {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *memoryStore) Put(_ context.Context, entry Entry) error {
	if err := validateKey(entry.Scope, entry.Hash); err != nil {
		return err
	}
	s.items.SetUntil(redisKey(entry.Scope, entry.Hash), entry, entry.CachedUntil)
	return nil
}

func (s *memoryStore) Purge(_ context.Context, now time.Time) (int64, error) {
	return int64(s.items.PurgeExpired(now)), nil
}

type noopStore struct{}

// NewNoopStore disables caching: every lookup misses and writes are dropped.
func NewNoopStore() Store {
	return noopStore{}
}

func (noopStore) Get(context.Context, string, string, time.Time) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (noopStore) Put(context.Context, Entry) error { return nil }

func (noopStore) Purge(context.Context, time.Time) (int64, error) { return 0, nil }
