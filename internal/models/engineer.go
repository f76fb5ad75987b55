package models

import "time"

// Engineer is a person whose lab access is tracked.
type Engineer struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	EmployeeNo string    `gorm:"size:64;uniqueIndex;not null" json:"employee_no"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Email      string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName keeps the singular table name used by existing deployments.
func (Engineer) TableName() string {
	return "engineer"
}
