package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Name       string    `json:"name" gorm:"not null"`
	Email      string    `json:"email" gorm:"uniqueIndex;not null"`
	Password   string    `json:"-" gorm:"not null"`
	IsVerified bool      `json:"isVerified" gorm:"default:false"`
	IsAdmin    bool      `json:"isAdmin" gorm:"default:false"`
	IsBanned   bool      `json:"isBanned" gorm:"default:false"`

	// Single-use verification/reset tokens, stored hashed
	VerifyToken       string     `json:"-"`
	VerifyTokenExpiry *time.Time `json:"-"`
	ResetToken        string     `json:"-"`
	ResetTokenExpiry  *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}
