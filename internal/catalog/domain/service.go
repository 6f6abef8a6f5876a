package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	// Prices returns the active products among ids keyed by id.
	Prices(ctx context.Context, ids []int64) (map[int64]Product, error)
	Restock(ctx context.Context, id string, quantity int64) (*Response, error)
}

type ListRequest struct {
	Name   string
	Active *bool
}

type CreateRequest struct {
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Description  *string        `json:"description"`
	Price        int64          `json:"price"`
	Active       *bool          `json:"active"`
	InitialStock int64          `json:"initial_stock"`
	Metadata     map[string]any `json:"metadata"`
}

type Response struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Price       int64          `json:"price"`
	Active      bool           `json:"active"`
	Available   int64          `json:"available"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrInvalidCode     = errors.New("invalid_code")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrInvalidStock    = errors.New("invalid_stock")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidID       = errors.New("invalid_id")
	ErrCodeTaken       = errors.New("code_taken")
)
