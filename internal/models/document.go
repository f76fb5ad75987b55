package models

import "time"

// Document is a lab document. Version is monotonic per title within a lab;
// acknowledgments only count for the version currently stored here.
type Document struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	LabID      uint      `gorm:"not null;index;uniqueIndex:uq_doc_lab_title_version" json:"lab_id"`
	Title      string    `gorm:"size:255;not null;uniqueIndex:uq_doc_lab_title_version" json:"title"`
	Version    int       `gorm:"not null;default:1;uniqueIndex:uq_doc_lab_title_version" json:"version"`
	Mandatory  bool      `gorm:"not null" json:"mandatory"`
	StorageKey *string   `gorm:"column:s3_key;size:1024" json:"storage_key,omitempty"`
	UploadedAt time.Time `gorm:"not null" json:"uploaded_at"`
}

func (Document) TableName() string {
	return "document"
}

// DocumentAck pins an engineer's acknowledgment to one document version.
type DocumentAck struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	EngineerID uint      `gorm:"not null;index;uniqueIndex:uq_ack_one_per_version" json:"engineer_id"`
	DocumentID uint      `gorm:"not null;index;uniqueIndex:uq_ack_one_per_version" json:"document_id"`
	Version    int       `gorm:"not null;uniqueIndex:uq_ack_one_per_version" json:"version"`
	AckedAt    time.Time `gorm:"not null" json:"acked_at"`
}

func (DocumentAck) TableName() string {
	return "document_ack"
}
