package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupGuard(t *testing.T) (*Guard, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&ProcessedEvent{}))

	return NewGuard(GuardParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
	}), db
}

func TestClaimFirstSeenOnce(t *testing.T) {
	guard, _ := setupGuard(t)
	ctx := context.Background()

	first, err := guard.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	for i := 0; i < 3; i++ {
		again, err := guard.Claim(ctx, "stripe:evt_1")
		require.NoError(t, err)
		assert.False(t, again)
	}

	other, err := guard.Claim(ctx, "stripe:evt_2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestClaimConcurrent(t *testing.T) {
	guard, _ := setupGuard(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		first atomic.Int64
		errs  atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := guard.Claim(ctx, "replicate:pred_1:succeeded")
			if err != nil {
				errs.Add(1)
				return
			}
			if ok {
				first.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, errs.Load())
	assert.Equal(t, int64(1), first.Load())
}

func TestClaimPropagatesStorageErrors(t *testing.T) {
	guard, db := setupGuard(t)
	require.NoError(t, db.Migrator().DropTable(&ProcessedEvent{}))

	_, err := guard.Claim(context.Background(), "stripe:evt_1")
	require.Error(t, err)

	_, err = guard.Claim(context.Background(), " ")
	assert.True(t, errors.Is(err, ErrInvalidEventID))
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "stripe:evt_1", EventKey("stripe", "evt_1"))
	assert.Equal(t, "replicate:p1:succeeded", EventKey("replicate", "p1", "succeeded"))
	assert.Equal(t, "replicate:p1", EventKey("replicate", "p1", " "))
}
