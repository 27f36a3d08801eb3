package room

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// MarkClosed transitions a room from active to closed. The status guard in
// the WHERE clause makes the transition race-safe; false means the room was
// unknown or already closed.
func MarkClosed(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&Room{}).
		Where("id = ? AND status = ?", id, StatusActive).
		Updates(map[string]interface{}{
			"status":     StatusClosed,
			"closed_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
