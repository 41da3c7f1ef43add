package repository

import (
	"context"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
)

type noopStore struct {
	policy *resetpolicy.Policy
	clock  clock.Clock
}

// NewNoopStore returns a store that never counts. Locked features stay
// locked; everything else is admitted with Used=0.
func NewNoopStore(policy *resetpolicy.Policy, clk clock.Clock) usagedomain.Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &noopStore{policy: policy, clock: clk}
}

func (s *noopStore) CheckAndIncrement(_ context.Context, userID, featureKey string, limit, amount int64) (usagedomain.CheckResult, error) {
	if userID == "" {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidUser
	}
	if featureKey == "" {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidFeature
	}
	if amount <= 0 {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidAmount
	}
	return usagedomain.CheckResult{
		Allowed:   limit > 0,
		Limit:     limit,
		Remaining: usagedomain.Remaining(limit, 0),
		ResetAt:   s.policy.NextReset(s.clock.Now()),
	}, nil
}

func (s *noopStore) GetAllUsage(context.Context, string) ([]usagedomain.FeatureUsage, error) {
	return []usagedomain.FeatureUsage{}, nil
}

func (s *noopStore) ResetUserUsage(context.Context, string) error {
	return nil
}
