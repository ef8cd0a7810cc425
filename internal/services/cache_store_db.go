package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cryptopay_app/internal/models"
)

// DatabaseCacheStore persists cache entries in the cache_entries table,
// upserting by cache_key. This is the tier shared across restarts when no
// Redis is deployed.
type DatabaseCacheStore struct {
	db *gorm.DB
}

func NewDatabaseCacheStore(db *gorm.DB) *DatabaseCacheStore {
	return &DatabaseCacheStore{db: db}
}

func (s *DatabaseCacheStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, time.Time{}, ErrCacheMiss
		}
		return nil, time.Time{}, err
	}
	if !time.Now().Before(entry.ExpiresAt) {
		return nil, time.Time{}, ErrCacheMiss
	}
	return entry.CacheData, entry.ExpiresAt, nil
}

func (s *DatabaseCacheStore) Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	entry := models.CacheEntry{
		CacheKey:  key,
		CacheData: data,
		ExpiresAt: expiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"cache_data", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

func (s *DatabaseCacheStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&models.CacheEntry{}).Error
}

func (s *DatabaseCacheStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&models.CacheEntry{}).Error
}

func (s *DatabaseCacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}
