package models

import (
	"time"

	"github.com/google/uuid"
)

// Capsule is the unit of scheduled delivery. The delivery worker only ever
// touches IsDelivered/DeliveredAt; content fields belong to the owner and are
// frozen once UnlockAt has passed.
type Capsule struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	UserID         uuid.UUID `json:"userId" gorm:"type:uuid;index;not null"`
	Title          string    `json:"title" gorm:"not null"`
	Message        string    `json:"message" gorm:"type:text"`
	RecipientName  string    `json:"recipientName" gorm:"not null"`
	RecipientEmail string    `json:"recipientEmail" gorm:"not null"`
	MediaURL       string    `json:"mediaUrl"`
	Password       string    `json:"-"` // bcrypt hash, empty when unprotected

	UnlockAt    time.Time  `json:"unlockAt" gorm:"index;not null"`
	IsDelivered bool       `json:"isDelivered" gorm:"default:false;index"`
	DeliveredAt *time.Time `json:"deliveredAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// Unlocked reports whether the capsule's unlock time has passed, after which
// content edits are rejected.
func (c *Capsule) Unlocked(now time.Time) bool {
	return !c.UnlockAt.After(now)
}
