package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log          *zap.Logger
	Config       config.Config
	Store        usagedomain.Store
	Entitlements entitlementdomain.Service
	Policy       *resetpolicy.Policy
	Clock        clock.Clock
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	production   bool
	store        usagedomain.Store
	entitlements entitlementdomain.Service
	policy       *resetpolicy.Policy
	clock        clock.Clock
	metrics      *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:          p.Log.Named("usage.service"),
		production:   p.Config.IsProduction(),
		store:        p.Store,
		entitlements: p.Entitlements,
		policy:       p.Policy,
		clock:        clk,
		metrics:      p.Metrics,
	}
}

// Check charges amount against the user's daily limit for featureKey.
// Denials are returned as *FeatureLockedError or *QuotaExceededError together
// with the check result.
func (s *Service) Check(ctx context.Context, userID, featureKey string, amount int64) (usagedomain.CheckResult, error) {
	userID = strings.TrimSpace(userID)
	featureKey = strings.TrimSpace(featureKey)
	if userID == "" {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidUser
	}
	if amount <= 0 {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidAmount
	}

	limits := s.entitlements.Limits()
	if !knownFeature(limits, featureKey) {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidFeature
	}

	plan, err := s.entitlements.EffectivePlan(ctx, userID)
	if err != nil {
		s.metrics.RecordUsageCheck(ctx, featureKey, obsmetrics.OutcomeError)
		return usagedomain.CheckResult{}, err
	}

	if limits.Locked(plan, featureKey) {
		s.metrics.RecordUsageCheck(ctx, featureKey, obsmetrics.OutcomeLocked)
		return usagedomain.CheckResult{
			ResetAt: s.policy.NextReset(s.clock.Now()),
		}, &usagedomain.FeatureLockedError{FeatureKey: featureKey, Plan: string(plan)}
	}

	limit := limits.Limit(plan, featureKey)
	result, err := s.store.CheckAndIncrement(ctx, userID, featureKey, limit, amount)
	if err != nil {
		s.metrics.RecordUsageCheck(ctx, featureKey, obsmetrics.OutcomeError)
		return usagedomain.CheckResult{}, err
	}

	if !result.Allowed {
		s.metrics.RecordUsageCheck(ctx, featureKey, obsmetrics.OutcomeExceeded)
		s.log.Debug("usage denied",
			zap.String("user_id", userID),
			zap.String("feature_key", featureKey),
			zap.Int64("used", result.Used),
			zap.Int64("limit", result.Limit),
		)
		return result, &usagedomain.QuotaExceededError{
			FeatureKey: featureKey,
			Used:       result.Used,
			Limit:      result.Limit,
			Remaining:  result.Remaining,
			ResetAt:    result.ResetAt,
		}
	}

	s.metrics.RecordUsageCheck(ctx, featureKey, obsmetrics.OutcomeAllowed)
	return result, nil
}

func (s *Service) Summary(ctx context.Context, userID string) (usagedomain.Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.Summary{}, usagedomain.ErrInvalidUser
	}

	plan, err := s.entitlements.EffectivePlan(ctx, userID)
	if err != nil {
		return usagedomain.Summary{}, err
	}
	usage, err := s.store.GetAllUsage(ctx, userID)
	if err != nil {
		return usagedomain.Summary{}, err
	}
	counts := make(map[string]int64, len(usage))
	for _, item := range usage {
		counts[item.FeatureKey] = item.Count
	}

	limits := s.entitlements.Limits()
	features := limits.Features()
	now := s.clock.Now()
	summary := usagedomain.Summary{
		Plan:     string(plan),
		DateKey:  s.policy.TodayKey(now),
		ResetAt:  s.policy.NextReset(now),
		Features: make([]usagedomain.FeatureSummary, 0, len(features)),
	}
	for _, feature := range features {
		used := counts[feature]
		limit := limits.Limit(plan, feature)
		locked := limits.Locked(plan, feature)
		remaining := usagedomain.Remaining(limit, used)
		if locked {
			remaining = 0
		}
		summary.Features = append(summary.Features, usagedomain.FeatureSummary{
			FeatureKey: feature,
			Used:       used,
			Limit:      limit,
			Remaining:  remaining,
			Locked:     locked,
		})
	}
	return summary, nil
}

// Reset zeroes today's counters. It is refused in production.
func (s *Service) Reset(ctx context.Context, userID string) error {
	if s.production {
		return usagedomain.ErrResetDisabled
	}
	if err := s.store.ResetUserUsage(ctx, userID); err != nil {
		return err
	}
	s.log.Warn("usage counters reset", zap.String("user_id", userID))
	return nil
}

func knownFeature(limits entitlementdomain.Limits, featureKey string) bool {
	if featureKey == "" {
		return false
	}
	for _, feature := range limits.Features() {
		if feature == featureKey {
			return true
		}
	}
	return false
}

// IsDenial reports whether err is a quota or locked-feature denial.
func IsDenial(err error) bool {
	var quota *usagedomain.QuotaExceededError
	var locked *usagedomain.FeatureLockedError
	return errors.As(err, &quota) || errors.As(err, &locked)
}
