package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role names understood by the API layer.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEngineer = "engineer"
)

// User is a login identity. Engineer users may be linked to an Engineer row
// so they can acknowledge documents for themselves.
type User struct {
	ID           uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"size:32;not null" json:"role"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	EngineerID   *uint     `gorm:"index" json:"engineer_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
