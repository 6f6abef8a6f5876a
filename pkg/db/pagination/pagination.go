package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size to [1, MaxPageSize].
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, ErrInvalidPageToken
	}
	if cursor.ID == "" || cursor.CreatedAt == "" {
		return nil, ErrInvalidPageToken
	}
	return &cursor, nil
}

// Page trims rows fetched with limit+1 down to limit and derives the next token
// from the last row kept.
func Page[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, PageInfo, error) {
	if len(rows) <= limit {
		return rows, PageInfo{}, nil
	}
	rows = rows[:limit]
	token, err := EncodeCursor(cursorOf(rows[len(rows)-1]))
	if err != nil {
		return nil, PageInfo{}, err
	}
	return rows, PageInfo{NextPageToken: token, HasMore: true}, nil
}
