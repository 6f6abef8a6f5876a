package domain

import "time"

// Record is the stored outcome of an admitted order-creation request.
type Record struct {
	CallerID  string    `json:"caller_id" gorm:"primaryKey;size:128"`
	Token     string    `json:"token" gorm:"primaryKey;size:255"`
	OrderID   int64     `json:"order_id" gorm:"not null"`
	Total     int64     `json:"total" gorm:"not null"`
	Status    string    `json:"status" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index:idx_idempotency_records_created_at"`
}

func (Record) TableName() string { return "idempotency_records" }
