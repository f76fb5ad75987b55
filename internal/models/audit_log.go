package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a state change. Rows are never updated or deleted.
type AuditLog struct {
	ID          uint              `gorm:"primarykey" json:"id"`
	At          time.Time         `gorm:"not null;index" json:"at"`
	ActorUserID *uuid.UUID        `gorm:"type:text;index" json:"actor_user_id,omitempty"`
	ActorRole   string            `gorm:"size:32" json:"actor_role,omitempty"`
	Action      string            `gorm:"size:64;not null;index" json:"action"` // e.g. "approve_access"
	Entity      string            `gorm:"size:64;not null;index" json:"entity"` // e.g. "lab_access"
	EntityID    string            `gorm:"size:128;index" json:"entity_id"`      // e.g. "12:3"
	Meta        datatypes.JSONMap `gorm:"column:meta_json" json:"meta,omitempty"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
