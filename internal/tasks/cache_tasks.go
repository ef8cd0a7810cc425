package tasks

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

// CleanupCacheTaskDef removes expired rows from the persisted cache tier.
// Each process evicts its own memory tier on access, so the sweep only
// has to cover the shared table.
type CleanupCacheTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *CleanupCacheTaskDef) TaskID() string {
	return "cleanup_cache"
}

// HandleExecution deletes cache entries whose expiry has passed
func (t *CleanupCacheTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, args map[string]interface{}) (map[string]interface{}, error) {
	result := db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return nil, result.Error
	}

	log.Printf("[Task: cleanup_cache] Removed %d expired cache entries", result.RowsAffected)

	return map[string]interface{}{
		"status":        "success",
		"removed_count": result.RowsAffected,
	}, nil
}

// CleanupCacheTask is the singleton instance of CleanupCacheTaskDef
var CleanupCacheTask = &CleanupCacheTaskDef{}
