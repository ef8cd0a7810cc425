package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is the persisted tier of the two-level cache. Rows past
// ExpiresAt are treated as absent on read and removed by the cleanup task.
// No soft delete: expired rows are gone for good.
type CacheEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CacheKey  string          `gorm:"type:varchar(255);uniqueIndex" json:"cache_key"`
	CacheData json.RawMessage `gorm:"type:jsonb" json:"cache_data"`
	ExpiresAt time.Time       `gorm:"index" json:"expires_at"`
}
