package pdf

import (
	"strconv"
	"strings"

	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
)

const dateLayout = "02 Jan 2006 15:04 MST"

// ReceiptFromOrder renders an order into receipt fields. Amounts are minor
// units grouped by thousands.
func ReceiptFromOrder(storeName string, o *orderdomain.Order) ReceiptData {
	data := ReceiptData{
		StoreName:     storeName,
		Reference:     o.Reference,
		CustomerID:    o.UserID,
		Status:        string(o.Status),
		PaymentMethod: strings.ReplaceAll(string(o.PaymentMethod), "_", " "),
		OrderedAt:     o.CreatedAt.UTC().Format(dateLayout),
		Subtotal:      FormatAmount(o.Subtotal),
		Discount:      FormatAmount(o.Discount),
		ShippingFee:   FormatAmount(o.ShippingFee),
		Total:         FormatAmount(o.Total),
	}
	if o.PromotionCode != nil {
		data.PromotionCode = *o.PromotionCode
	}
	if o.PaidAt != nil {
		data.PaidAt = o.PaidAt.UTC().Format(dateLayout)
	}
	if o.PaidAmount != nil {
		data.PaidAmount = FormatAmount(*o.PaidAmount)
	}
	for _, item := range o.Items {
		description := item.Name
		if description == "" {
			description = "Product " + strconv.FormatInt(item.ProductID, 10)
		}
		data.Items = append(data.Items, ReceiptItem{
			Description: description,
			Qty:         item.Quantity,
			UnitPrice:   FormatAmount(item.UnitPrice),
			Amount:      FormatAmount(item.LineTotal),
		})
	}
	return data
}

// FormatAmount groups digits by thousands, e.g. 815000 -> "815,000".
func FormatAmount(v int64) string {
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		u = uint64(-(v + 1)) + 1
	}
	digits := strconv.FormatUint(u, 10)
	var b strings.Builder
	b.WriteString(sign)
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

