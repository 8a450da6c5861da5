package models

import (
	"time"
)

// AuditLog represents a system audit entry
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Actor     string    `gorm:"size:64;not null" json:"actor"`  // Opaque requester/approver id
	Action    string    `gorm:"size:50;not null" json:"action"` // CREATE, RECORD_PAYMENT, APPROVE, APPLY
	Entity    string    `gorm:"size:50;not null" json:"entity"` // Plan, Payment, Modification
	EntityID  uint      `json:"entity_id"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
