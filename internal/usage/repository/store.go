package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"github.com/smallbiznis/creatorquota/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertIncrementSQL admits the increment only when the post-increment count
// stays within the limit. No returned row means the increment was refused.
const upsertIncrementSQL = `INSERT INTO usage_records (id, user_id, feature_key, date_key, used_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, feature_key, date_key) DO UPDATE
SET used_count = usage_records.used_count + excluded.used_count,
    updated_at = excluded.updated_at
WHERE usage_records.used_count + excluded.used_count <= ?
RETURNING used_count`

type usedCountRow struct {
	UsedCount int64
}

type gormStore struct {
	db     *gorm.DB
	genID  *snowflake.Node
	policy *resetpolicy.Policy
	clock  clock.Clock
}

// NewGormStore returns the database-backed counter store.
func NewGormStore(conn *gorm.DB, genID *snowflake.Node, policy *resetpolicy.Policy, clk clock.Clock) usagedomain.Store {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &gormStore{
		db:     conn,
		genID:  genID,
		policy: policy,
		clock:  clk,
	}
}

func (s *gormStore) CheckAndIncrement(ctx context.Context, userID, featureKey string, limit, amount int64) (usagedomain.CheckResult, error) {
	userID = strings.TrimSpace(userID)
	featureKey = strings.TrimSpace(featureKey)
	if userID == "" {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidUser
	}
	if featureKey == "" {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidFeature
	}
	if amount <= 0 {
		return usagedomain.CheckResult{}, usagedomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	dateKey := s.policy.TodayKey(now)
	result := usagedomain.CheckResult{
		Limit:   limit,
		ResetAt: s.policy.NextReset(now),
	}

	if limit <= 0 || amount > limit {
		used, err := s.currentCount(ctx, userID, featureKey, dateKey)
		if err != nil {
			return usagedomain.CheckResult{}, err
		}
		result.Used = used
		result.Remaining = usagedomain.Remaining(limit, used)
		return result, nil
	}

	var (
		used    int64
		allowed bool
		err     error
	)
	if s.db.Dialector.Name() == db.DialectMySQL {
		used, allowed, err = s.incrementLocked(ctx, userID, featureKey, dateKey, limit, amount, now)
	} else {
		used, allowed, err = s.incrementUpsert(ctx, userID, featureKey, dateKey, limit, amount, now)
	}
	if err != nil {
		return usagedomain.CheckResult{}, err
	}

	result.Allowed = allowed
	result.Used = used
	result.Remaining = usagedomain.Remaining(limit, used)
	return result, nil
}

func (s *gormStore) incrementUpsert(ctx context.Context, userID, featureKey, dateKey string, limit, amount int64, now time.Time) (int64, bool, error) {
	var rows []usedCountRow
	err := s.db.WithContext(ctx).Raw(
		upsertIncrementSQL,
		s.genID.Generate(),
		userID,
		featureKey,
		dateKey,
		amount,
		now,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return 0, false, err
	}
	if len(rows) > 0 {
		return rows[0].UsedCount, true, nil
	}

	used, err := s.currentCount(ctx, userID, featureKey, dateKey)
	if err != nil {
		return 0, false, err
	}
	return used, false, nil
}

// incrementLocked serialises the key with SELECT ... FOR UPDATE for dialects
// without conditional upsert RETURNING.
func (s *gormStore) incrementLocked(ctx context.Context, userID, featureKey, dateKey string, limit, amount int64, now time.Time) (int64, bool, error) {
	var (
		used    int64
		allowed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := usagedomain.UsageRecord{
			ID:         s.genID.Generate(),
			UserID:     userID,
			FeatureKey: featureKey,
			DateKey:    dateKey,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var record usagedomain.UsageRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND feature_key = ? AND date_key = ?", userID, featureKey, dateKey).
			Take(&record).Error; err != nil {
			return err
		}

		if record.UsedCount+amount > limit {
			used = record.UsedCount
			return nil
		}

		if err := tx.Model(&usagedomain.UsageRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{
				"used_count": gorm.Expr("used_count + ?", amount),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		used = record.UsedCount + amount
		allowed = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return used, allowed, nil
}

func (s *gormStore) currentCount(ctx context.Context, userID, featureKey, dateKey string) (int64, error) {
	var record usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Select("used_count").
		Where("user_id = ? AND feature_key = ? AND date_key = ?", userID, featureKey, dateKey).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.UsedCount, nil
}

func (s *gormStore) GetAllUsage(ctx context.Context, userID string) ([]usagedomain.FeatureUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}

	var records []usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Select("feature_key", "used_count").
		Where("user_id = ? AND date_key = ?", userID, s.policy.TodayKey(s.clock.Now())).
		Order("feature_key ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	usage := make([]usagedomain.FeatureUsage, 0, len(records))
	for _, record := range records {
		usage = append(usage, usagedomain.FeatureUsage{
			FeatureKey: record.FeatureKey,
			Count:      record.UsedCount,
		})
	}
	return usage, nil
}

func (s *gormStore) ResetUserUsage(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.ErrInvalidUser
	}
	now := s.clock.Now()
	return s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("user_id = ? AND date_key = ?", userID, s.policy.TodayKey(now)).
		Updates(map[string]any{
			"used_count": 0,
			"updated_at": now,
		}).Error
}
