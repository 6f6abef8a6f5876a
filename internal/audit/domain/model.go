package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeSystem ActorType = "system"
)

// AuditLog is one administrative action against the store.
type AuditLog struct {
	ID         int64             `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	ActorType  string            `json:"actor_type" gorm:"size:32;not null"`
	ActorID    *string           `json:"actor_id,omitempty" gorm:"size:128"`
	Action     string            `json:"action" gorm:"size:64;not null;index:idx_audit_logs_action"`
	TargetType string            `json:"target_type" gorm:"size:64;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"size:64;index:idx_audit_logs_target"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty" gorm:"size:64"`
	UserAgent  *string           `json:"user_agent,omitempty" gorm:"size:255"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index:idx_audit_logs_created"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Cursor struct {
	ID        int64
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *Cursor
	Limit      int
}
