package ephemeralkey

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ConsumeUse records one use of the key as a single conditional update: the
// usage ceiling, expiry and revocation are re-checked inside the UPDATE so
// two concurrent validations cannot both take the last allowed use. Returns
// false when the guard rejected the update.
func ConsumeUse(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&EphemeralKey{}).
		Where("id = ? AND revoked_at IS NULL AND expires_at > ? AND (max_usage IS NULL OR usage_count < max_usage)", id, now).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// MarkRevoked sets revoked_at iff the key is still live. Returns false when
// the key was already revoked (or raced with another revocation).
func MarkRevoked(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&EphemeralKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoked_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}
