// Package domain contains the daily usage counter model and its contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord is the per-user, per-feature counter for one civil day.
type UsageRecord struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_usage_records_user_feature_date,priority:1"`
	FeatureKey string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_records_user_feature_date,priority:2"`
	DateKey    string       `gorm:"type:varchar(10);not null;uniqueIndex:ux_usage_records_user_feature_date,priority:3"`
	UsedCount  int64        `gorm:"not null;default:0"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// CheckResult is the outcome of a check-and-increment.
type CheckResult struct {
	Allowed   bool      `json:"allowed"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// FeatureUsage is today's count for one feature.
type FeatureUsage struct {
	FeatureKey string `json:"feature_key"`
	Count      int64  `json:"count"`
}

// FeatureSummary combines today's count with the caller's plan limits.
type FeatureSummary struct {
	FeatureKey string `json:"feature_key"`
	Used       int64  `json:"used"`
	Limit      int64  `json:"limit"`
	Remaining  int64  `json:"remaining"`
	Locked     bool   `json:"locked"`
}

// Summary is today's usage across every configured feature.
type Summary struct {
	Plan     string           `json:"plan"`
	DateKey  string           `json:"date_key"`
	ResetAt  time.Time        `json:"reset_at"`
	Features []FeatureSummary `json:"features"`
}

// Remaining returns max(0, limit-used).
func Remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
