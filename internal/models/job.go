package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobType represents the type of job
type JobType string

const (
	JobTypeAutocheck JobType = "autocheck"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a background task
type Job struct {
	ID          uuid.UUID         `gorm:"type:text;primary_key" json:"id"`
	Type        JobType           `gorm:"not null" json:"type"`
	Status      JobStatus         `gorm:"not null;default:'pending'" json:"status"`
	RequestedBy *uuid.UUID        `gorm:"type:text;index" json:"requested_by,omitempty"`
	Trigger     string            `gorm:"size:32" json:"trigger"` // "manual" or "schedule"
	Result      datatypes.JSONMap `json:"result,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// BeforeCreate hook to generate UUID
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
