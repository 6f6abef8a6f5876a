package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ListFilter struct {
	ReviewOnly bool
	Outcome    Outcome
	Limit      int
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, event *EventRecord, processedAt time.Time) error
	ListEvents(ctx context.Context, db *gorm.DB, filter ListFilter) ([]EventRecord, error)
}
