package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

// Entry describes an action to record. The actor comes from the request
// context unless set explicitly.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type ListRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) ([]AuditLog, pagination.PageInfo, error)
}

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
