// Package domain holds the subscription record and the pure entitlement rules
// derived from it.
package domain

import (
	"context"
	"errors"
	"time"
)

// Plan is the effective tier used for limit lookups.
type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// Key returns the lowercase tag used in the limits table.
func (p Plan) Key() string {
	switch p {
	case PlanPro:
		return "pro"
	default:
		return "free"
	}
}

// Subscription statuses as delivered by the payment provider.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusInactive          = "inactive"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
)

// Subscription is the one-to-one billing state for a user.
type Subscription struct {
	UserID               string     `gorm:"primaryKey;type:varchar(191)"`
	Plan                 string     `gorm:"type:varchar(32);not null;default:'free'"`
	Status               string     `gorm:"type:varchar(32);not null;default:'inactive'"`
	CurrentPeriodEnd     *time.Time `gorm:""`
	CancelAt             *time.Time `gorm:""`
	CancelAtPeriodEnd    bool       `gorm:"not null;default:false"`
	StripeCustomerID     *string    `gorm:"type:varchar(191);index"`
	StripeSubscriptionID *string    `gorm:"type:varchar(191);index"`
	StripePriceID        *string    `gorm:"type:varchar(191)"`
	CreatedAt            time.Time  `gorm:"not null"`
	UpdatedAt            time.Time  `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Snapshot is the client-facing entitlement view.
type Snapshot struct {
	Plan              Plan       `json:"plan"`
	IsActive          bool       `json:"isActive"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	CancelAt          *time.Time `json:"cancelAt"`
}

// SubscriptionUpdate carries webhook or checkout driven changes. Nil pointers
// leave the stored value untouched.
type SubscriptionUpdate struct {
	UserID               string
	Plan                 *string
	Status               *string
	CurrentPeriodEnd     *time.Time
	ClearPeriodEnd       bool
	CancelAt             *time.Time
	ClearCancelAt        bool
	CancelAtPeriodEnd    *bool
	StripeCustomerID     *string
	StripeSubscriptionID *string
	StripePriceID        *string
}

type Service interface {
	Get(ctx context.Context, userID string) (*Subscription, error)
	Snapshot(ctx context.Context, userID string) (Snapshot, error)
	EffectivePlan(ctx context.Context, userID string) (Plan, error)
	ApplySubscription(ctx context.Context, update SubscriptionUpdate) (*Subscription, error)
	FindUserIDByCustomer(ctx context.Context, customerID string) (string, error)
	Limits() Limits
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrNotFound        = errors.New("subscription_not_found")
)
