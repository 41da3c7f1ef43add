package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Subscription, error)
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
}
