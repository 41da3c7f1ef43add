package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Plans *config.PlanConfigHolder
	Repo  entitlementdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	plans *config.PlanConfigHolder
	repo  entitlementdomain.Repository
}

func NewService(p ServiceParam) entitlementdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("entitlement.service"),
		clock: clk,
		plans: p.Plans,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (*entitlementdomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, entitlementdomain.ErrInvalidUser
	}
	return s.repo.FindByUserID(ctx, s.db, userID)
}

func (s *Service) Snapshot(ctx context.Context, userID string) (entitlementdomain.Snapshot, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return entitlementdomain.Snapshot{}, err
	}
	return entitlementdomain.NewSnapshot(sub, s.clock.Now()), nil
}

func (s *Service) EffectivePlan(ctx context.Context, userID string) (entitlementdomain.Plan, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return entitlementdomain.PlanFree, err
	}
	return entitlementdomain.EffectivePlan(sub, s.clock.Now()), nil
}

// ApplySubscription merges update into the stored subscription, creating it
// when absent. Subscriptions are never deleted.
func (s *Service) ApplySubscription(ctx context.Context, update entitlementdomain.SubscriptionUpdate) (*entitlementdomain.Subscription, error) {
	userID := strings.TrimSpace(update.UserID)
	if userID == "" {
		return nil, entitlementdomain.ErrInvalidUser
	}

	var applied *entitlementdomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		sub := existing
		if sub == nil {
			sub = &entitlementdomain.Subscription{
				UserID:    userID,
				Plan:      "free",
				Status:    entitlementdomain.StatusInactive,
				CreatedAt: now,
			}
		}
		mergeUpdate(sub, update)
		sub.UpdatedAt = now

		if err := s.repo.Upsert(ctx, tx, sub); err != nil {
			return err
		}
		applied = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription applied",
		zap.String("user_id", userID),
		zap.String("plan", applied.Plan),
		zap.String("status", applied.Status),
	)
	return applied, nil
}

func (s *Service) FindUserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", entitlementdomain.ErrInvalidCustomer
	}
	sub, err := s.repo.FindByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", entitlementdomain.ErrNotFound
	}
	return sub.UserID, nil
}

// Limits returns the current limits table. The table follows plans.yml reloads.
func (s *Service) Limits() entitlementdomain.Limits {
	return LimitsFromConfig(s.plans.Get())
}

func LimitsFromConfig(cfg config.PlanConfig) entitlementdomain.Limits {
	limits := make(map[string]map[string]int64, len(cfg.Plans))
	locked := make(map[string][]string, len(cfg.Plans))
	for plan, table := range cfg.Plans {
		limits[plan] = table.Limits
		locked[plan] = table.Locked
	}
	return entitlementdomain.NewLimits(limits, locked)
}

func mergeUpdate(sub *entitlementdomain.Subscription, update entitlementdomain.SubscriptionUpdate) {
	if update.Plan != nil {
		sub.Plan = strings.ToLower(strings.TrimSpace(*update.Plan))
	}
	if update.Status != nil {
		sub.Status = strings.ToLower(strings.TrimSpace(*update.Status))
	}
	if update.ClearPeriodEnd {
		sub.CurrentPeriodEnd = nil
	} else if update.CurrentPeriodEnd != nil {
		end := update.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &end
	}
	if update.ClearCancelAt {
		sub.CancelAt = nil
	} else if update.CancelAt != nil {
		cancelAt := update.CancelAt.UTC()
		sub.CancelAt = &cancelAt
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if update.StripeCustomerID != nil {
		sub.StripeCustomerID = update.StripeCustomerID
	}
	if update.StripeSubscriptionID != nil {
		sub.StripeSubscriptionID = update.StripeSubscriptionID
	}
	if update.StripePriceID != nil {
		sub.StripePriceID = update.StripePriceID
	}
}
