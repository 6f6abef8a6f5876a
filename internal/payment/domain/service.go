package domain

import (
	"context"
	"errors"
)

type Service interface {
	Reconcile(ctx context.Context, event PaymentEvent, payload []byte) (*Result, error)
	ListEvents(ctx context.Context, filter ListFilter) ([]EventRecord, error)
}

var (
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidPayload   = errors.New("invalid_payload")
)
