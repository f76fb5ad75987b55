package models

import "time"

// AccessStatus is the state of an engineer's access to a lab.
type AccessStatus string

const (
	AccessPending AccessStatus = "pending"
	AccessActive  AccessStatus = "active"
	AccessRevoked AccessStatus = "revoked"
)

// Valid reports whether s is one of the known access states.
func (s AccessStatus) Valid() bool {
	switch s {
	case AccessPending, AccessActive, AccessRevoked:
		return true
	}
	return false
}

// Reason codes stored on LabAccess rows.
const (
	ReasonRequested       = "requested"
	ReasonUserCancelled   = "user_cancelled"
	ReasonApproved        = "approved"
	ReasonNotCompliant    = "not_compliant"
	ReasonManualRevoke    = "manual_revoke"
	ReasonAutoCompliant   = "auto_compliant"
	ReasonOutOfCompliance = "out_of_compliance"
)

// LabAccess is one access-state row for an (engineer, lab) pair. At most one
// row exists per (engineer, lab, status); rows are replaced, not amended,
// when the reconciler moves a pair to another state.
type LabAccess struct {
	ID          uint         `gorm:"primarykey" json:"id"`
	EngineerID  uint         `gorm:"not null;index;uniqueIndex:uq_access_unique_state" json:"engineer_id"`
	LabID       uint         `gorm:"not null;index;uniqueIndex:uq_access_unique_state" json:"lab_id"`
	Status      AccessStatus `gorm:"size:16;not null;index;uniqueIndex:uq_access_unique_state;check:ck_access_status,status in ('pending','active','revoked')" json:"status"`
	ReasonCode  *string      `gorm:"size:64" json:"reason_code,omitempty"`
	EffectiveAt time.Time    `gorm:"not null" json:"effective_at"`
}

func (LabAccess) TableName() string {
	return "lab_access"
}
