package repository

import (
	"context"
	"errors"

	entitlementdomain "github.com/smallbiznis/creatorquota/internal/entitlement/domain"
	pkgdb "github.com/smallbiznis/creatorquota/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*entitlementdomain.Subscription, error) {
	return r.find(db.WithContext(ctx).Where("user_id = ?", userID))
}

// FindByUserIDForUpdate locks the row where the dialect supports it.
func (r *repo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*entitlementdomain.Subscription, error) {
	query := db.WithContext(ctx)
	if db.Dialector.Name() != pkgdb.DialectSQLite {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(query.Where("user_id = ?", userID))
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*entitlementdomain.Subscription, error) {
	return r.find(db.WithContext(ctx).Where("stripe_customer_id = ?", customerID))
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *entitlementdomain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(sub).Error
}

func (r *repo) find(query *gorm.DB) (*entitlementdomain.Subscription, error) {
	var sub entitlementdomain.Subscription
	err := query.Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
