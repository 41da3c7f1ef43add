package contentcache

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheEntry is the database row behind the database backend.
type CacheEntry struct {
	Scope       string         `gorm:"primaryKey;type:varchar(64)"`
	ContentHash string         `gorm:"primaryKey;type:varchar(64)"`
	Payload     datatypes.JSON `gorm:"not null"`
	CachedUntil time.Time      `gorm:"not null;index"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (CacheEntry) TableName() string { return "cache_entries" }

type databaseStore struct {
	db *gorm.DB
}

func NewDatabaseStore(db *gorm.DB) Store {
	return &databaseStore{db: db}
}

func (s *databaseStore) Get(ctx context.Context, scope, hash string, now time.Time) (Entry, bool, error) {
	if err := validateKey(scope, hash); err != nil {
		return Entry{}, false, err
	}

	var row CacheEntry
	err := s.db.WithContext(ctx).
		Where("scope = ? AND content_hash = ?", scope, hash).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	// Expiry is compared here so the rule does not depend on how the
	// dialect stores timestamps.
	if !now.Before(row.CachedUntil) {
		return Entry{}, false, nil
	}
	return Entry{
		Scope:       row.Scope,
		Hash:        row.ContentHash,
		Payload:     []byte(row.Payload),
		CachedUntil: row.CachedUntil.UTC(),
	}, true, nil
}

func (s *databaseStore) Put(ctx context.Context, entry Entry) error {
	if err := validateKey(entry.Scope, entry.Hash); err != nil {
		return err
	}
	now := time.Now().UTC()
	row := CacheEntry{
		Scope:       entry.Scope,
		ContentHash: entry.Hash,
		Payload:     datatypes.JSON(entry.Payload),
		CachedUntil: entry.CachedUntil.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "content_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "cached_until", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *databaseStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("cached_until <= ?", now.UTC()).
		Delete(&CacheEntry{})
	return result.RowsAffected, result.Error
}
