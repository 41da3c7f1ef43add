package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	"github.com/smallbiznis/creatorquota/internal/entitlement/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T, clk clock.Clock) entitlementdomain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&entitlementdomain.Subscription{}))

	return NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Plans: config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()),
		Repo:  repository.Provide(),
	})
}

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool     { return &v }

func TestSnapshotWithoutSubscriptionIsFree(t *testing.T) {
	svc := setupService(t, clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

	snapshot, err := svc.Snapshot(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.PlanFree, snapshot.Plan)
	require.False(t, snapshot.IsActive)
	require.Nil(t, snapshot.CurrentPeriodEnd)
}

func TestApplySubscriptionGracePeriod(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	svc := setupService(t, clk)
	ctx := context.Background()

	periodEnd := now.AddDate(0, 0, 3)
	_, err := svc.ApplySubscription(ctx, entitlementdomain.SubscriptionUpdate{
		UserID:           "user-1",
		Plan:             strPtr("pro"),
		Status:           strPtr(entitlementdomain.StatusActive),
		CurrentPeriodEnd: &periodEnd,
		StripeCustomerID: strPtr("cus_123"),
	})
	require.NoError(t, err)

	_, err = svc.ApplySubscription(ctx, entitlementdomain.SubscriptionUpdate{
		UserID:            "user-1",
		Status:            strPtr(entitlementdomain.StatusCanceled),
		CancelAtPeriodEnd: boolPtr(true),
	})
	require.NoError(t, err)

	snapshot, err := svc.Snapshot(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.PlanPro, snapshot.Plan)
	require.True(t, snapshot.IsActive)
	require.True(t, snapshot.CancelAtPeriodEnd)

	clk.Advance(4 * 24 * time.Hour)
	plan, err := svc.EffectivePlan(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.PlanFree, plan)

	userID, err := svc.FindUserIDByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	_, err = svc.FindUserIDByCustomer(ctx, "cus_missing")
	require.ErrorIs(t, err, entitlementdomain.ErrNotFound)
}

func TestApplySubscriptionRequiresUser(t *testing.T) {
	svc := setupService(t, clock.NewFakeClock(time.Now()))
	_, err := svc.ApplySubscription(context.Background(), entitlementdomain.SubscriptionUpdate{UserID: " "})
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidUser)
}

func TestLimitsFollowPlanConfig(t *testing.T) {
	svc := setupService(t, clock.NewFakeClock(time.Now()))
	limits := svc.Limits()
	require.Equal(t, int64(10), limits.Limit(entitlementdomain.PlanFree, "idea_generate"))
	require.True(t, limits.Locked(entitlementdomain.PlanFree, "competitor_search"))
	require.Equal(t, int64(50), limits.Limit(entitlementdomain.PlanPro, "thumbnail_generate"))
}
