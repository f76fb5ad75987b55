package models

import "time"

// Course is a training course. ValidMonths is the default validity window;
// nil or a non-positive value means no expiration is tracked.
type Course struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Code        string    `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	ValidMonths *int      `json:"valid_months,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Course) TableName() string {
	return "course"
}

// Completion records that an engineer finished a course on a given day.
// The same course may be completed on several days; each is kept.
type Completion struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	EngineerID     uint      `gorm:"not null;index;uniqueIndex:uq_completion_once_per_day" json:"engineer_id"`
	CourseID       uint      `gorm:"not null;index;uniqueIndex:uq_completion_once_per_day" json:"course_id"`
	DateTaken      time.Time `gorm:"type:date;not null;uniqueIndex:uq_completion_once_per_day" json:"date_taken"`
	CertificateURL *string   `gorm:"size:1024" json:"certificate_url,omitempty"`
	CertificateKey *string   `gorm:"column:certificate_s3_key;size:1024" json:"certificate_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Completion) TableName() string {
	return "completion"
}
