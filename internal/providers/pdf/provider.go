package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

type ReceiptData struct {
	StoreName     string
	Reference     string
	CustomerID    string
	Status        string
	PaymentMethod string
	OrderedAt     string
	PaidAt        string
	PromotionCode string

	Items []ReceiptItem

	Subtotal    string
	Discount    string
	ShippingFee string
	Total       string
	PaidAmount  string
}

type ReceiptItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}
