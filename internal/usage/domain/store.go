package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store performs atomic check-and-increment on daily counters.
type Store interface {
	// CheckAndIncrement admits amount only if today's count plus amount stays
	// within limit. A limit <= 0 means the feature is locked.
	CheckAndIncrement(ctx context.Context, userID, featureKey string, limit, amount int64) (CheckResult, error)
	// GetAllUsage returns today's counters for the user.
	GetAllUsage(ctx context.Context, userID string) ([]FeatureUsage, error)
	// ResetUserUsage zeroes today's counters for the user.
	ResetUserUsage(ctx context.Context, userID string) error
}

// Service applies plan limits to usage checks.
type Service interface {
	Check(ctx context.Context, userID, featureKey string, amount int64) (CheckResult, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	Reset(ctx context.Context, userID string) error
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidFeature = errors.New("invalid_feature")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrResetDisabled  = errors.New("usage_reset_disabled")
)

// QuotaExceededError reports a denied check with the numbers a client needs
// to explain the wait.
type QuotaExceededError struct {
	FeatureKey string
	Used       int64
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: used %d of %d", e.FeatureKey, e.Used, e.Limit)
}

// FeatureLockedError reports a feature the plan cannot use at all.
type FeatureLockedError struct {
	FeatureKey string
	Plan       string
}

func (e *FeatureLockedError) Error() string {
	return fmt.Sprintf("feature %s is not available on plan %s", e.FeatureKey, e.Plan)
}
