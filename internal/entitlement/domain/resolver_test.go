package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t time.Time) *time.Time { return &t }

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{
			name: "nil subscription",
			sub:  nil,
			want: false,
		},
		{
			name: "active with future period end",
			sub:  &Subscription{Plan: "pro", Status: StatusActive, CurrentPeriodEnd: at(now.AddDate(0, 0, 10))},
			want: true,
		},
		{
			name: "canceled inside grace period",
			sub: &Subscription{
				Plan:              "pro",
				Status:            StatusCanceled,
				CancelAtPeriodEnd: true,
				CurrentPeriodEnd:  at(now.AddDate(0, 0, 3)),
			},
			want: true,
		},
		{
			name: "period end passed",
			sub:  &Subscription{Plan: "pro", Status: StatusActive, CurrentPeriodEnd: at(now.Add(-time.Second))},
			want: false,
		},
		{
			name: "period end equal to now",
			sub:  &Subscription{Plan: "pro", Status: StatusActive, CurrentPeriodEnd: at(now)},
			want: false,
		},
		{
			name: "cancel at earlier than period end wins",
			sub: &Subscription{
				Plan:             "pro",
				Status:           StatusActive,
				CancelAt:         at(now.Add(-time.Hour)),
				CurrentPeriodEnd: at(now.AddDate(0, 0, 5)),
			},
			want: false,
		},
		{
			name: "cancel at later than period end ignored",
			sub: &Subscription{
				Plan:             "pro",
				Status:           StatusActive,
				CancelAt:         at(now.AddDate(0, 0, 30)),
				CurrentPeriodEnd: at(now.Add(-time.Hour)),
			},
			want: false,
		},
		{
			name: "only cancel at in future",
			sub:  &Subscription{Plan: "pro", Status: StatusCanceled, CancelAt: at(now.Add(time.Hour))},
			want: true,
		},
		{
			name: "no dates falls back to trialing",
			sub:  &Subscription{Plan: "pro", Status: StatusTrialing},
			want: true,
		},
		{
			name: "no dates falls back to past due",
			sub:  &Subscription{Plan: "pro", Status: StatusPastDue},
			want: true,
		},
		{
			name: "no dates canceled",
			sub:  &Subscription{Plan: "pro", Status: StatusCanceled},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsActive(tc.sub, now))
		})
	}
}

func TestPlanFromSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, PlanFree, PlanFromSubscription(nil, now))
	assert.Equal(t, PlanFree, PlanFromSubscription(&Subscription{Plan: "free", Status: StatusActive}, now))
	assert.Equal(t, PlanFree, PlanFromSubscription(&Subscription{Plan: "pro", Status: StatusIncompleteExpired}, now))
	assert.Equal(t, PlanFree, PlanFromSubscription(&Subscription{Plan: "pro", Status: StatusUnpaid}, now))
	assert.Equal(t, PlanFree, PlanFromSubscription(&Subscription{
		Plan: "pro", Status: StatusActive, CurrentPeriodEnd: at(now.Add(-time.Minute)),
	}, now))
	assert.Equal(t, PlanPro, PlanFromSubscription(&Subscription{
		Plan: "pro", Status: StatusActive, CurrentPeriodEnd: at(now.Add(time.Minute)),
	}, now))
	assert.Equal(t, PlanPro, PlanFromSubscription(&Subscription{
		Plan: "PRO", Status: StatusCanceled, CurrentPeriodEnd: at(now.Add(time.Minute)),
	}, now))
}

func TestEffectivePlanRequiresEntitlement(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	canceledEarly := &Subscription{
		Plan:             "pro",
		Status:           StatusActive,
		CancelAt:         at(now.Add(-time.Hour)),
		CurrentPeriodEnd: at(now.AddDate(0, 0, 5)),
	}
	assert.Equal(t, PlanPro, PlanFromSubscription(canceledEarly, now))
	assert.Equal(t, PlanFree, EffectivePlan(canceledEarly, now))

	snapshot := NewSnapshot(canceledEarly, now)
	assert.Equal(t, PlanFree, snapshot.Plan)
	assert.False(t, snapshot.IsActive)
	require.NotNil(t, snapshot.CancelAt)

	assert.Equal(t, Snapshot{Plan: PlanFree}, NewSnapshot(nil, now))
}

func TestLimits(t *testing.T) {
	limits := NewLimits(
		map[string]map[string]int64{
			"free": {"idea_generate": 10, "thumbnail_generate": 0},
			"PRO":  {"idea_generate": 200, "competitor_search": 100},
		},
		map[string][]string{"free": {"competitor_search"}},
	)

	assert.Equal(t, int64(10), limits.Limit(PlanFree, "idea_generate"))
	assert.Equal(t, int64(200), limits.Limit(PlanPro, "idea_generate"))
	assert.Equal(t, int64(0), limits.Limit(PlanFree, "thumbnail_generate"))
	assert.Equal(t, int64(0), limits.Limit(PlanFree, "unknown"))
	assert.True(t, limits.Locked(PlanFree, "competitor_search"))
	assert.False(t, limits.Locked(PlanPro, "competitor_search"))
	assert.Equal(t, []string{"competitor_search", "idea_generate", "thumbnail_generate"}, limits.Features())

	table := limits.For(PlanFree)
	table["idea_generate"] = 999
	assert.Equal(t, int64(10), limits.Limit(PlanFree, "idea_generate"))
}
