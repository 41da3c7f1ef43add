package contentcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&CacheEntry{}))
	return db
}

func newTestService(store Store, clk clock.Clock) *Service {
	return NewService(ServiceParam{
		Store: store,
		Config: config.Config{Cache: config.CacheConfig{
			IdeasTTL:      7 * 24 * time.Hour,
			ThumbnailsTTL: 30 * 24 * time.Hour,
		}},
		Clock: clk,
		Log:   zap.NewNop(),
	})
}

type backend struct {
	name  string
	store func(t *testing.T, clk *clock.FakeClock) Store
}

func backends() []backend {
	return []backend{
		{
			name: "database",
			store: func(t *testing.T, _ *clock.FakeClock) Store {
				return NewDatabaseStore(openTestDB(t))
			},
		},
		{
			name: "memory",
			store: func(_ *testing.T, clk *clock.FakeClock) Store {
				return NewMemoryStore(clk, 0)
			},
		},
		{
			name: "redis",
			store: func(t *testing.T, clk *clock.FakeClock) Store {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() { _ = client.Close() })
				store := NewRedisStore(client).(*redisStore)
				store.now = clk.Now
				return store
			},
		},
	}
}

func TestPutThenGetUntilExpiry(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clk := clock.NewFakeClock(start)
			svc := newTestService(b.store(t, clk), clk)
			ctx := context.Background()

			payload := map[string]any{"ideas": []string{"one", "two"}}
			cachedUntil, err := svc.Put(ctx, ScopeIdeas, "abc", payload, svc.TTL(ScopeIdeas))
			require.NoError(t, err)
			assert.Equal(t, start.Add(7*24*time.Hour), cachedUntil)

			entry, ok, err := svc.Get(ctx, ScopeIdeas, "abc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"ideas":["one","two"]}`, string(entry.Payload))
			assert.True(t, entry.CachedUntil.Equal(cachedUntil))

			_, ok, err = svc.Get(ctx, ScopeThumbnails, "abc")
			require.NoError(t, err)
			assert.False(t, ok, "scope is part of the key")

			clk.Advance(7*24*time.Hour + time.Second)
			_, ok, err = svc.Get(ctx, ScopeIdeas, "abc")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFreshWriteReplacesExpiredEntry(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clk := clock.NewFakeClock(start)
			svc := newTestService(b.store(t, clk), clk)
			ctx := context.Background()

			_, err := svc.Put(ctx, ScopeIdeas, "k", map[string]int{"v": 1}, time.Hour)
			require.NoError(t, err)
			clk.Advance(2 * time.Hour)

			_, err = svc.Put(ctx, ScopeIdeas, "k", map[string]int{"v": 2}, time.Hour)
			require.NoError(t, err)

			var got map[string]int
			_, ok, err := svc.GetInto(ctx, ScopeIdeas, "k", &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 2, got["v"])
		})
	}
}

func TestDatabasePurgeRemovesExpired(t *testing.T) {
	db := openTestDB(t)
	clk := clock.NewFakeClock(start)
	svc := newTestService(NewDatabaseStore(db), clk)
	ctx := context.Background()

	_, err := svc.Put(ctx, ScopeIdeas, "old", json.RawMessage(`{"a":1}`), 24*time.Hour)
	require.NoError(t, err)
	_, err = svc.Put(ctx, ScopeIdeas, "new", json.RawMessage(`{"a":2}`), 10*24*time.Hour)
	require.NoError(t, err)

	clk.Advance(3 * 24 * time.Hour)
	removed, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var count int64
	require.NoError(t, db.Model(&CacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMemoryPurge(t *testing.T) {
	clk := clock.NewFakeClock(start)
	svc := newTestService(NewMemoryStore(clk, 0), clk)
	ctx := context.Background()

	_, err := svc.Put(ctx, ScopeThumbnails, "a", []byte(`"url"`), time.Minute)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	removed, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(start)
	store := NewRedisStore(client).(*redisStore)
	store.now = clk.Now
	svc := newTestService(store, clk)

	_, err := svc.Put(context.Background(), ScopeIdeas, "abc", map[string]string{"k": "v"}, time.Hour)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cc:ideas:abc"))
	assert.Equal(t, time.Hour, mr.TTL("cc:ideas:abc"))
}

func TestNoopStoreAlwaysMisses(t *testing.T) {
	clk := clock.NewFakeClock(start)
	svc := newTestService(NewNoopStore(), clk)
	ctx := context.Background()

	_, err := svc.Put(ctx, ScopeIdeas, "abc", map[string]string{"k": "v"}, time.Hour)
	require.NoError(t, err)
	_, ok, err := svc.Get(ctx, ScopeIdeas, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutValidation(t *testing.T) {
	clk := clock.NewFakeClock(start)
	svc := newTestService(NewMemoryStore(clk, 0), clk)
	ctx := context.Background()

	_, err := svc.Put(ctx, ScopeIdeas, "abc", map[string]string{}, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = svc.Put(ctx, ScopeIdeas, "abc", json.RawMessage(`{bad`), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = svc.Put(ctx, "", "abc", map[string]string{}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidScope)
	_, _, err = svc.Get(ctx, ScopeIdeas, "")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
