package repositories

import (
	"context"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CapsuleStore wraps capsule persistence for the delivery worker. Handlers
// keep using the shared DB handle directly; the worker goes through this type
// so its contract stays mockable.
type CapsuleStore struct {
	db *gorm.DB
}

func NewCapsuleStore(db *gorm.DB) *CapsuleStore {
	return &CapsuleStore{db: db}
}

// FindDueUndelivered returns every capsule whose unlock time is at or before
// now and which has not been delivered yet. There is no lower bound: a
// capsule due yesterday is still due today.
func (s *CapsuleStore) FindDueUndelivered(ctx context.Context, now time.Time) ([]models.Capsule, error) {
	var capsules []models.Capsule
	err := s.db.WithContext(ctx).
		Where("unlock_at <= ? AND is_delivered = ?", now, false).
		Find(&capsules).Error
	if err != nil {
		return nil, err
	}
	return capsules, nil
}

// MarkDelivered flips is_delivered false -> true in a single conditional
// UPDATE. Returns true iff this call performed the transition; false means
// the capsule is missing or some other pass already marked it. The WHERE
// clause on is_delivered is what keeps the transition at-most-once under
// concurrent passes, so this must never be rewritten as read-modify-write.
func (s *CapsuleStore) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Capsule{}).
		Where("id = ? AND is_delivered = ?", id, false).
		Updates(map[string]any{
			"is_delivered": true,
			"delivered_at": deliveredAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
