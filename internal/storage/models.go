package storage

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecordModel maps to the "access_audit_events" table.
// No UpdatedAt or DeletedAt — the audit log is append-only and immutable.
type AuditRecordModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestingAgent string    `gorm:"not null;index"`
	ResourceID      string    `gorm:"not null"`
	ResourceType    string    `gorm:"not null"`
	Action          string    `gorm:"not null"`
	Decision        string    `gorm:"not null;index"`
	Source          string
	Metadata        string    `gorm:"type:text"` // JSON-encoded resource metadata.
	CreatedAt       time.Time `gorm:"index"`
}

func (AuditRecordModel) TableName() string { return "access_audit_events" }
