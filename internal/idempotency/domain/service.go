package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Key identifies a request by caller and client supplied token.
type Key struct {
	CallerID string
	Token    string
}

// Enabled reports whether the request opted into deduplication.
func (k Key) Enabled() bool { return k.Token != "" }

// Result is the payload replayed to a duplicate request.
type Result struct {
	OrderID int64
	Total   int64
	Status  string
}

// Recorder stores the result for the admitted key using tx, so the record
// commits together with the caller's own writes.
type Recorder func(ctx context.Context, tx *gorm.DB, result Result) error

// ComputeFunc produces the result for a first-time request.
type ComputeFunc func(ctx context.Context, record Recorder) (Result, error)

type Service interface {
	Admit(ctx context.Context, key Key, compute ComputeFunc) (Result, bool, error)
	Purge(ctx context.Context) (int64, error)
}

var (
	ErrInvalidCaller     = errors.New("invalid_caller")
	ErrInvalidToken      = errors.New("invalid_idempotency_key")
	ErrRequestInProgress = errors.New("request_in_progress")
)
