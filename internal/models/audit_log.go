package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLog represents a record of user actions
type AuditLog struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	UserID    *uuid.UUID     `gorm:"type:text;index" json:"user_id"` // nil for anonymous actions such as failed logins
	Action    string         `gorm:"size:64;not null;index" json:"action"`
	Resource  string         `gorm:"size:128;not null" json:"resource"` // e.g. "poll:<id>", "user:<id>"
	Details   datatypes.JSON `json:"details"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
}
