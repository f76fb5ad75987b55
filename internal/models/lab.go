package models

import "time"

// Lab is a physical lab with its own training and document requirements.
type Lab struct {
	ID   uint   `gorm:"primarykey" json:"id"`
	Code string `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name string `gorm:"size:255;not null" json:"name"`
	// GraceDays extends every training due date of this lab by whole calendar days.
	GraceDays int       `gorm:"not null;default:0;check:ck_lab_grace_days,grace_days >= 0" json:"grace_days"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Lab) TableName() string {
	return "lab"
}

// LabRequirement makes a course mandatory for a lab. ValidMonths, when set,
// overrides the course default validity for this lab only.
type LabRequirement struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	LabID       uint      `gorm:"not null;uniqueIndex:uq_lab_course" json:"lab_id"`
	CourseID    uint      `gorm:"not null;uniqueIndex:uq_lab_course" json:"course_id"`
	ValidMonths *int      `json:"valid_months,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (LabRequirement) TableName() string {
	return "lab_requirement"
}
